package flows

import (
	"context"
	"strings"
	"sync"

	"weversity/services/learner-app/internal/nav"
)

type ResetState int

const (
	ResetRequestMethod ResetState = iota
	ResetOTPEntry
	ResetNewPassword
	ResetDone
)

// Reset walks a user through requesting a code, entering it and choosing a
// new password.
type Reset struct {
	deps Deps

	mu    sync.Mutex
	state ResetState
	email string
	code  string
	OTP   OTPInput
}

func NewReset(deps Deps) *Reset {
	return &Reset{deps: deps, state: ResetRequestMethod}
}

func (r *Reset) State() ResetState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reset) Email() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.email
}

// RequestOTP asks the backend to mail a code. It may be called again from
// any step to get a fresh code.
func (r *Reset) RequestOTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	fields := FieldErrors{}
	if requireField(fields, "email", email) && !ValidEmail(email) {
		fields["email"] = msgInvalidEmail
	}
	if !fields.Empty() {
		return validationError(fields)
	}

	if err := r.deps.Recovery.SendOTP(ctx, email); err != nil {
		return classify(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.email = email
	r.code = ""
	r.OTP.Reset()
	r.state = ResetOTPEntry
	return nil
}

// Resume continues a reset whose code was requested earlier, for example by
// another process.
func (r *Reset) Resume(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.email = strings.TrimSpace(email)
	r.code = ""
	r.OTP.Reset()
	r.state = ResetOTPEntry
}

// SubmitOTP checks the code in the OTP cells. An expired or locked code sends
// the user back to request a new one. A wrong one clears the cells.
func (r *Reset) SubmitOTP(ctx context.Context) error {
	r.mu.Lock()
	if r.state != ResetOTPEntry {
		r.mu.Unlock()
		return &Error{Kind: KindGeneric, Message: "Request a code first."}
	}
	if !r.OTP.Complete() {
		r.mu.Unlock()
		return validationError(FieldErrors{"otp": "Please enter the 4-digit code."})
	}
	email, code := r.email, r.OTP.Code()
	r.mu.Unlock()

	if err := r.deps.Recovery.VerifyResetOTP(ctx, email, code); err != nil {
		flowErr := classifyOTP(err)
		r.mu.Lock()
		switch flowErr.Kind {
		case KindOTPExpired, KindTooManyAttempts:
			r.state = ResetRequestMethod
			r.OTP.Reset()
		case KindInvalidOTP:
			r.OTP.Reset()
		}
		r.mu.Unlock()
		return flowErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
	r.state = ResetNewPassword
	return nil
}

// SetNewPassword completes the reset and schedules the move to the main shell.
func (r *Reset) SetNewPassword(ctx context.Context, password, confirmation string) error {
	r.mu.Lock()
	if r.state != ResetNewPassword {
		r.mu.Unlock()
		return &Error{Kind: KindGeneric, Message: "Verify your code first."}
	}
	email, code := r.email, r.code
	r.mu.Unlock()

	fields := FieldErrors{}
	validatePassword(fields, "password", password, "password_confirmation", confirmation)
	if !fields.Empty() {
		return validationError(fields)
	}

	if err := r.deps.Recovery.ResetPassword(ctx, email, code, password); err != nil {
		flowErr := classifyOTP(err)
		if flowErr.Kind == KindOTPExpired || flowErr.Kind == KindTooManyAttempts {
			r.mu.Lock()
			r.state = ResetRequestMethod
			r.OTP.Reset()
			r.mu.Unlock()
		}
		return flowErr
	}

	r.mu.Lock()
	r.state = ResetDone
	r.code = ""
	r.mu.Unlock()
	r.deps.navigateAfter(ResetDoneRedirectDelay, nav.To(nav.RouteMainLive))
	return nil
}
