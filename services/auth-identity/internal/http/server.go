package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weversity/services/auth-identity/internal/auth"
	"weversity/services/auth-identity/internal/codes"
	"weversity/services/auth-identity/internal/config"
	"weversity/services/auth-identity/internal/mail"
	"weversity/services/auth-identity/internal/model"
)

// Store is the persistence the handlers need; repository.Store satisfies it.
// Lookups report a missing row with pgx.ErrNoRows.
type Store interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	MarkEmailVerified(ctx context.Context, userID string, verifiedAt time.Time) error
	UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error
	UpsertProfile(ctx context.Context, profile model.Profile) error
	GetProfile(ctx context.Context, id string) (model.Profile, error)
	CreateRefreshSession(ctx context.Context, session model.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error
	RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error
}

// CodeStore holds short-lived OTPs and email verification tokens; codes.Store
// satisfies it.
type CodeStore interface {
	PutOTP(ctx context.Context, email string, record codes.OTPRecord) error
	GetOTP(ctx context.Context, email string) (codes.OTPRecord, bool, error)
	DeleteOTP(ctx context.Context, email string) error
	RecordOTPFailure(ctx context.Context, email string) (int64, error)
	PutVerification(ctx context.Context, tokenHash string, record codes.Verification, ttl time.Duration) error
	ConsumeVerification(ctx context.Context, tokenHash string) (codes.Verification, bool, error)
}

type Server struct {
	cfg      config.Config
	store    Store
	codes    CodeStore
	mailer   mail.Sender
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics
	now      func() time.Time
}

func NewServer(cfg config.Config, store Store, codeStore CodeStore, mailer mail.Sender, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if mailer == nil {
		mailer = mail.NewLogSender(logger)
	}
	registry := prometheus.NewRegistry()
	return &Server{
		cfg:      cfg,
		store:    store,
		codes:    codeStore,
		mailer:   mailer,
		logger:   logger,
		registry: registry,
		metrics:  newMetrics(registry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/token", s.handleToken)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/resend", s.handleResend)
		r.Post("/verify", s.handleVerify)
		r.Post("/send-otp", s.handleSendOTP)
		r.Post("/verify-otp", s.handleVerifyOTP)
		r.Post("/reset-password", s.handleResetPassword)

		r.With(s.authMiddleware).Post("/logout", s.handleLogout)
		r.With(s.authMiddleware).Get("/user", s.handleGetUser)
		r.With(s.authMiddleware).Get("/me", s.handleGetMe)
	})

	r.Route("/profiles", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/{id}", s.handleGetProfile)
		r.Put("/{id}", s.handlePutProfile)
	})

	r.Route("/students", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole(model.RoleStudent))
		r.Get("/dashboard", s.handleStudentDashboard)
	})
	r.Route("/teachers", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole(model.RoleTeacher))
		r.Get("/dashboard", s.handleTeacherDashboard)
	})

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "Authorization header must be in format: Bearer <token>")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token", "Authentication required")
				return
			}
			for _, role := range roles {
				if claims.Role == string(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden", "Access denied. Required role: "+joinRoles(roles))
		})
	}
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func joinRoles(roles []model.Role) string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return strings.Join(names, " or ")
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
