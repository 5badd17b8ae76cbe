package flows

import (
	"errors"
	"strings"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/session"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindDuplicateAccount   Kind = "duplicate_account"
	KindEmailNotVerified   Kind = "email_not_verified"
	KindInvalidOTP         Kind = "invalid_otp"
	KindOTPExpired         Kind = "otp_expired"
	KindTooManyAttempts    Kind = "too_many_attempts"
	KindNetwork            Kind = "network"
	KindGeneric            Kind = "generic"
)

const (
	msgInvalidCredentials = "The email or password you entered is incorrect."
	msgDuplicateAccount   = "An account with this email already exists. Please sign in or use another email."
	msgEmailNotVerified   = "Please verify your email before signing in."
	msgNetwork            = "Could not reach WeVersity. Please try again."
	msgInvalidOTP         = "The code you entered is incorrect."
	msgOTPExpired         = "The code has expired. Please request a new one."
	msgTooManyAttempts    = "Too many incorrect codes. Please request a new one."
	msgValidation         = "Please correct the highlighted fields."
)

// Error is the only error type flows return. Message is safe to show.
type Error struct {
	Kind    Kind
	Message string
	Fields  FieldErrors
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the flow error kind of err, KindGeneric for foreign errors.
func KindOf(err error) Kind {
	var flowErr *Error
	if errors.As(err, &flowErr) {
		return flowErr.Kind
	}
	return KindGeneric
}

func validationError(fields FieldErrors) *Error {
	return &Error{Kind: KindValidation, Message: msgValidation, Fields: fields}
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: msgNetwork, Err: err}
}

func genericError(err error) *Error {
	message := err.Error()
	if message == "" {
		message = "Something went wrong. Please try again."
	}
	return &Error{Kind: KindGeneric, Message: message, Err: err}
}

func containsAny(message string, needles ...string) bool {
	lower := strings.ToLower(message)
	for _, needle := range needles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

func classifySignup(err error) *Error {
	switch {
	case errors.Is(err, backend.ErrUnavailable):
		return networkError(err)
	case backend.ErrorCode(err) == "email_taken",
		containsAny(err.Error(), "already exists", "already registered", "duplicate"):
		return &Error{Kind: KindDuplicateAccount, Message: msgDuplicateAccount, Err: err}
	default:
		return genericError(err)
	}
}

func classifyLogin(err error) *Error {
	switch {
	case errors.Is(err, backend.ErrUnavailable):
		return networkError(err)
	case errors.Is(err, session.ErrEmailNotVerified),
		backend.ErrorCode(err) == "email_not_confirmed":
		return &Error{Kind: KindEmailNotVerified, Message: msgEmailNotVerified, Err: err}
	case containsAny(err.Error(), "invalid", "credentials"):
		return &Error{Kind: KindInvalidCredentials, Message: msgInvalidCredentials, Err: err}
	default:
		return genericError(err)
	}
}

func classifyOTP(err error) *Error {
	switch {
	case errors.Is(err, backend.ErrUnavailable):
		return networkError(err)
	case backend.ErrorCode(err) == "otp_expired":
		return &Error{Kind: KindOTPExpired, Message: msgOTPExpired, Err: err}
	case backend.ErrorCode(err) == "too_many_attempts":
		return &Error{Kind: KindTooManyAttempts, Message: msgTooManyAttempts, Err: err}
	case backend.ErrorCode(err) == "invalid_otp":
		return &Error{Kind: KindInvalidOTP, Message: msgInvalidOTP, Err: err}
	default:
		return genericError(err)
	}
}

func classify(err error) *Error {
	if errors.Is(err, backend.ErrUnavailable) {
		return networkError(err)
	}
	return genericError(err)
}
