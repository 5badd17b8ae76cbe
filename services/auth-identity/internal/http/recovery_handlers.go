package http

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"weversity/services/auth-identity/internal/codes"
	"weversity/services/auth-identity/internal/crypto"
	mailer "weversity/services/auth-identity/internal/mail"
)

type sendOTPRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "missing_email", "Email is required")
		return
	}

	if _, err := s.store.GetUserByEmail(r.Context(), email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.metrics.observe("send_otp", "user_not_found")
			writeError(w, http.StatusNotFound, "user_not_found", "No account found with this email")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to send OTP")
		return
	}

	code, err := codes.GenerateOTP()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to send OTP")
		return
	}
	// PutOTP overwrites, so only the latest code is ever valid.
	record := codes.NewOTPRecord(code, s.now(), s.cfg.OTPExpiry)
	if err := s.codes.PutOTP(r.Context(), email, record); err != nil {
		s.logger.ErrorContext(r.Context(), "store otp failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to send OTP")
		return
	}

	s.sendMail(r.Context(), mailer.OTPEmail(s.cfg.MailFrom, email, code, int(s.cfg.OTPExpiry.Minutes())))
	s.metrics.observe("send_otp", "ok")
	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP sent to your email"})
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	email := normalizeEmail(req.Email)
	if !s.checkOTP(w, r, "verify_otp", email, req.OTP) {
		return
	}
	s.metrics.observe("verify_otp", "ok")
	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP verified successfully"})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "weak_password", "Password must be at least 6 characters")
		return
	}
	email := normalizeEmail(req.Email)
	if !s.checkOTP(w, r, "reset_password", email, req.OTP) {
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found", "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to reset password")
		return
	}

	hash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to reset password")
		return
	}
	now := s.now()
	if err := s.store.UpdatePassword(r.Context(), user.ID, hash, now); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to reset password")
		return
	}
	if err := s.store.RevokeRefreshSessionsByUser(r.Context(), user.ID, now); err != nil {
		s.logger.WarnContext(r.Context(), "revoke sessions after reset failed", "user_id", user.ID, "error", err)
	}
	if err := s.codes.DeleteOTP(r.Context(), email); err != nil {
		s.logger.WarnContext(r.Context(), "delete otp after reset failed", "error", err)
	}

	s.metrics.observe("reset_password", "ok")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

// checkOTP writes the error response itself and reports whether the caller
// may continue. Expired codes, and codes guessed wrong MaxOTPAttempts times,
// are deleted so a new one has to be requested.
func (s *Server) checkOTP(w http.ResponseWriter, r *http.Request, operation, email, code string) bool {
	if email == "" || code == "" {
		writeError(w, http.StatusBadRequest, "missing_otp", "Email and OTP are required")
		return false
	}
	record, ok, err := s.codes.GetOTP(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to verify OTP")
		return false
	}
	if !ok {
		s.metrics.observe(operation, "invalid_otp")
		writeError(w, http.StatusBadRequest, "invalid_otp", "Invalid OTP")
		return false
	}

	switch err := record.Check(code, s.now()); {
	case err == nil:
		return true
	case errors.Is(err, codes.ErrOTPExpired):
		_ = s.codes.DeleteOTP(r.Context(), email)
		s.metrics.observe(operation, "otp_expired")
		writeError(w, http.StatusBadRequest, "otp_expired", "OTP has expired. Please request a new one")
		return false
	default:
		failures, err := s.codes.RecordOTPFailure(r.Context(), email)
		if err != nil {
			s.logger.WarnContext(r.Context(), "record otp failure failed", "error", err)
		}
		if failures >= codes.MaxOTPAttempts {
			_ = s.codes.DeleteOTP(r.Context(), email)
			s.metrics.observe(operation, "too_many_attempts")
			writeError(w, http.StatusTooManyRequests, "too_many_attempts", "Too many incorrect attempts. Please request a new OTP")
			return false
		}
		s.metrics.observe(operation, "invalid_otp")
		writeError(w, http.StatusBadRequest, "invalid_otp", "Invalid OTP")
		return false
	}
}
