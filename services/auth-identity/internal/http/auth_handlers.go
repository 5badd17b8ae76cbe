package http

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"weversity/services/auth-identity/internal/auth"
	"weversity/services/auth-identity/internal/codes"
	"weversity/services/auth-identity/internal/crypto"
	mailer "weversity/services/auth-identity/internal/mail"
	"weversity/services/auth-identity/internal/model"
	"weversity/services/auth-identity/internal/repository"
)

const minPasswordLength = 6

type signupRequest struct {
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Data     userMetadata `json:"data"`
}

type signupResponse struct {
	User    userResponse     `json:"user"`
	Session *sessionResponse `json:"session,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	email, ok := parseEmail(req.Email)
	if !ok {
		s.metrics.observe("signup", "invalid_email")
		writeError(w, http.StatusBadRequest, "invalid_email", "Please provide a valid email")
		return
	}
	if len(req.Password) < minPasswordLength {
		s.metrics.observe("signup", "weak_password")
		writeError(w, http.StatusBadRequest, "weak_password", "Password must be at least 6 characters")
		return
	}
	role := model.Role(strings.TrimSpace(req.Data.Role))
	if !role.Valid() {
		s.metrics.observe("signup", "invalid_role")
		writeError(w, http.StatusBadRequest, "invalid_role", "Role must be either student or teacher")
		return
	}
	if avatar := strings.TrimSpace(req.Data.AvatarURL); avatar != "" {
		if parsed, err := url.ParseRequestURI(avatar); err != nil || parsed.Host == "" {
			writeError(w, http.StatusBadRequest, "invalid_avatar_url", "Avatar URL must be valid")
			return
		}
	}

	if _, err := s.store.GetUserByEmail(r.Context(), email); err == nil {
		s.metrics.observe("signup", "email_taken")
		writeError(w, http.StatusConflict, "email_taken", "User with this email already exists")
		return
	} else if !errors.Is(err, pgx.ErrNoRows) {
		s.logger.ErrorContext(r.Context(), "signup lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create account")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create account")
		return
	}
	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Metadata: model.UserMetadata{
			Role:        role,
			FullName:    strings.TrimSpace(req.Data.FullName),
			UserName:    strings.TrimSpace(req.Data.UserName),
			PhoneNumber: strings.TrimSpace(req.Data.PhoneNumber),
			AvatarURL:   strings.TrimSpace(req.Data.AvatarURL),
			Bio:         strings.TrimSpace(req.Data.Bio),
			Expertise:   strings.TrimSpace(req.Data.Expertise),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			s.metrics.observe("signup", "email_taken")
			writeError(w, http.StatusConflict, "email_taken", "User with this email already exists")
			return
		}
		s.logger.ErrorContext(r.Context(), "signup create user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create account")
		return
	}

	profile := model.ProfileFromMetadata(user)
	profile.CreatedAt, profile.UpdatedAt = now, now
	if err := s.store.UpsertProfile(r.Context(), profile); err != nil {
		// The profile is rebuilt from user metadata on verification.
		s.logger.WarnContext(r.Context(), "profile creation failed", "user_id", user.ID, "error", err)
	}

	if err := s.issueVerification(r.Context(), user); err != nil {
		s.logger.WarnContext(r.Context(), "verification email not issued", "user_id", user.ID, "error", err)
	}
	if user.Metadata.FullName != "" {
		s.sendMail(r.Context(), mailer.WelcomeEmail(s.cfg.MailFrom, user.Email, user.Metadata.FullName, string(role)))
	}

	resp := signupResponse{User: mapUser(user)}
	if !s.cfg.RequireEmailVerification {
		accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_error", "Failed to create session")
			return
		}
		session := mapSession(user, accessToken, refreshToken, s.cfg.AccessTokenTTL, now)
		resp.Session = &session
	}

	s.metrics.observe("signup", "ok")
	writeJSON(w, http.StatusCreated, resp)
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials", "Email and password are required")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.metrics.observe("token", "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid login credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Login failed")
		return
	}

	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		s.metrics.observe("token", "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid login credentials")
		return
	}
	if s.cfg.RequireEmailVerification && !user.EmailVerified() {
		s.metrics.observe("token", "email_not_confirmed")
		writeError(w, http.StatusForbidden, "email_not_confirmed", "Email not confirmed")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error", "Login failed")
		return
	}
	s.metrics.observe("token", "ok")
	writeJSON(w, http.StatusOK, mapSession(user, accessToken, refreshToken, s.cfg.AccessTokenTTL, s.now()))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token", "Refresh token is required")
		return
	}

	tokenHash := crypto.HashToken(req.RefreshToken)
	session, err := s.store.GetRefreshSession(r.Context(), tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "Invalid refresh token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Refresh failed")
		return
	}

	now := s.now()
	if session.RevokedAt != nil || session.ExpiresAt.Before(now) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired", "Refresh token expired")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found", "User not found")
		return
	}

	if err := s.store.RevokeRefreshSession(r.Context(), session.ID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Refresh failed")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error", "Refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, mapSession(user, accessToken, refreshToken, s.cfg.AccessTokenTTL, now))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token", "Authentication required")
		return
	}

	_ = s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, s.now())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token", "Authentication required")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found", "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, mapUser(user))
}

type meResponse struct {
	User    userResponse     `json:"user"`
	Profile *profileResponse `json:"profile"`
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token", "Authentication required")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found", "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to get user")
		return
	}
	resp := meResponse{User: mapUser(user)}
	profile, err := s.store.GetProfile(r.Context(), user.ID)
	switch {
	case err == nil:
		mapped := mapProfile(profile)
		resp.Profile = &mapped
	case !errors.Is(err, pgx.ErrNoRows):
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type resendRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
}

// handleResend replaces the pending verification link and mails it again.
// Unknown or already verified addresses get the same answer so the endpoint
// cannot be used to probe for accounts.
func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	if req.Type != "signup" {
		writeError(w, http.StatusBadRequest, "invalid_type", "Only signup confirmations can be resent")
		return
	}
	email, ok := parseEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_email", "Please provide a valid email")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to resend verification email")
		return
	}
	if err == nil && !user.EmailVerified() {
		if err := s.issueVerification(r.Context(), user); err != nil {
			s.logger.ErrorContext(r.Context(), "resend verification failed", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to resend verification email")
			return
		}
	}
	s.metrics.observe("resend", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type verifyRequest struct {
	TokenHash string `json:"token_hash"`
	Type      string `json:"type"`
}

type verifyResponse struct {
	User userResponse `json:"user"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	if req.Type != "email" && req.Type != "signup" {
		writeError(w, http.StatusBadRequest, "invalid_type", "Unsupported verification type")
		return
	}
	token := strings.TrimSpace(req.TokenHash)
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "Token is required")
		return
	}

	record, ok, err := s.codes.ConsumeVerification(r.Context(), crypto.HashToken(token))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Verification failed")
		return
	}
	now := s.now()
	if !ok || now.Unix() > record.ExpiresAt {
		s.metrics.observe("verify", "invalid_token")
		writeError(w, http.StatusBadRequest, "invalid_token", "Token has expired or is invalid")
		return
	}

	if err := s.store.MarkEmailVerified(r.Context(), record.UserID, now); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found", "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Verification failed")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), record.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Verification failed")
		return
	}
	s.ensureProfile(r.Context(), user)
	s.metrics.observe("verify", "ok")
	writeJSON(w, http.StatusOK, verifyResponse{User: mapUser(user)})
}

// ensureProfile recreates a profile that failed to be written at signup.
func (s *Server) ensureProfile(ctx context.Context, user model.User) {
	if _, err := s.store.GetProfile(ctx, user.ID); !errors.Is(err, pgx.ErrNoRows) {
		return
	}
	profile := model.ProfileFromMetadata(user)
	if !profile.Role.Valid() {
		return
	}
	now := s.now()
	profile.CreatedAt, profile.UpdatedAt = now, now
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		s.logger.WarnContext(ctx, "profile repair failed", "user_id", user.ID, "error", err)
	}
}

func (s *Server) issueTokens(ctx context.Context, user model.User, userAgent, ip string) (string, string, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(s.resolveRole(ctx, user)),
	})
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewOpaqueToken()
	if err != nil {
		return "", "", err
	}

	now := s.now()
	session := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}
	if ip != "" {
		session.IPAddress = &ip
	}

	if err := s.store.CreateRefreshSession(ctx, session); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// resolveRole prefers the profile row and falls back to signup metadata when
// the profile has not been written yet.
func (s *Server) resolveRole(ctx context.Context, user model.User) model.Role {
	if profile, err := s.store.GetProfile(ctx, user.ID); err == nil && profile.Role.Valid() {
		return profile.Role
	}
	return user.Metadata.Role
}

func (s *Server) issueVerification(ctx context.Context, user model.User) error {
	token, err := crypto.NewOpaqueToken()
	if err != nil {
		return err
	}
	now := s.now()
	record := codes.Verification{
		UserID:    user.ID,
		Email:     user.Email,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.cfg.VerificationTTL).Unix(),
	}
	if err := s.codes.PutVerification(ctx, crypto.HashToken(token), record, s.cfg.VerificationTTL); err != nil {
		return err
	}
	link, err := verificationLink(s.cfg.VerifyRedirectURL, token, user.Email)
	if err != nil {
		return err
	}
	s.sendMail(ctx, mailer.VerificationEmail(s.cfg.MailFrom, user.Email, link))
	return nil
}

func (s *Server) sendMail(ctx context.Context, msg mailer.Message) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.mailer.Send(sendCtx, msg); err != nil {
		s.metrics.mailFailures.Inc()
		s.logger.WarnContext(ctx, "mail send failed", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}

func verificationLink(base, token, email string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("token", token)
	query.Set("type", "email")
	query.Set("email", email)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func parseEmail(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil || parsed.Address != raw {
		return "", false
	}
	return strings.ToLower(parsed.Address), true
}
