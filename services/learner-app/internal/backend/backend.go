// Package backend declares the collaborators the learner core depends on and
// an HTTP implementation that talks to the auth-identity service.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"weversity/services/learner-app/internal/model"
)

var (
	// ErrUnavailable wraps transport failures where no response was received.
	ErrUnavailable = errors.New("backend unavailable")
	ErrNoSession   = errors.New("no active session")
)

type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

type User struct {
	ID            string
	Email         string
	EmailVerified bool
	Metadata      model.Metadata
}

type AuthSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

type SignUpResult struct {
	User    User
	Session *AuthSession
}

// AuthStateCallback receives a nil session for EventSignedOut.
type AuthStateCallback func(event AuthEvent, session *AuthSession)

type Subscription interface {
	Unsubscribe()
}

type Auth interface {
	SignUp(ctx context.Context, email, password string, metadata model.Metadata) (SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (AuthSession, error)
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (*AuthSession, error)
	GetUser(ctx context.Context) (User, error)
	OnAuthStateChange(cb AuthStateCallback) Subscription
	Resend(ctx context.Context, kind, email string) error
	VerifyOTP(ctx context.Context, tokenHash, kind string) (User, error)
}

// Profiles returns a nil profile from Select when no row exists.
type Profiles interface {
	Upsert(ctx context.Context, profile model.Profile) error
	Select(ctx context.Context, id string) (*model.Profile, error)
}

type Recovery interface {
	SendOTP(ctx context.Context, email string) error
	VerifyResetOTP(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

type KeyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// DeepLinks yields the URL the app was opened with, if any.
type DeepLinks interface {
	InitialURL(ctx context.Context) (string, bool, error)
}

// APIError is a response the service produced with a non-2xx status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// ErrorCode returns the service error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// StaticLink is a DeepLinks that always returns the same URL.
type StaticLink string

func (l StaticLink) InitialURL(context.Context) (string, bool, error) {
	return string(l), l != "", nil
}
