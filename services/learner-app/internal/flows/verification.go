package flows

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/deeplink"
	"weversity/services/learner-app/internal/model"
	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/session"
)

type VerificationState int

const (
	AwaitingClick VerificationState = iota
	Verifying
	ResendRequested
	Verified
	VerificationFailed
)

func (s VerificationState) String() string {
	switch s {
	case AwaitingClick:
		return "awaiting_click"
	case Verifying:
		return "verifying"
	case ResendRequested:
		return "resend_requested"
	case Verified:
		return "verified"
	case VerificationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const KindCooldown Kind = "cooldown"

var errNoPendingEmail = &Error{Kind: KindGeneric, Message: "Email address not found. Please try signing up again."}

type Verification struct {
	deps     Deps
	cooldown time.Duration

	mu         sync.Mutex
	state      VerificationState
	lastResend time.Time
}

func NewVerification(deps Deps, cooldown time.Duration) *Verification {
	if cooldown <= 0 {
		cooldown = DefaultResendCooldown
	}
	return &Verification{deps: deps, cooldown: cooldown, state: AwaitingClick}
}

func (v *Verification) State() VerificationState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// PendingEmail returns the address awaiting verification, if any.
func (v *Verification) PendingEmail(ctx context.Context) (string, bool) {
	email, ok, err := v.deps.KV.Get(ctx, session.PendingVerificationKey)
	if err != nil {
		v.deps.logger().WarnContext(ctx, "read pending verification failed", "error", err)
		return "", false
	}
	return email, ok && email != ""
}

// HandleLink drives the flow from the link the user opened.
func (v *Verification) HandleLink(ctx context.Context, link deeplink.Link) error {
	if !link.HasToken() {
		if link.Verified {
			v.deps.clearPending(ctx)
			v.setState(Verified)
			v.deps.navigateAfter(VerifiedRedirectDelay, loginTarget(link.Email))
			return nil
		}
		v.fail()
		return &Error{Kind: KindGeneric, Message: "This verification link is incomplete. Please sign up again."}
	}

	v.setState(Verifying)
	kind := link.Type
	if kind == "" {
		kind = "email"
	}
	user, err := v.deps.Auth.VerifyOTP(ctx, link.Token, kind)
	if err != nil {
		v.fail()
		return classify(err)
	}

	v.ensureProfile(ctx, user)
	v.deps.clearPending(ctx)
	v.setState(Verified)

	email := user.Email
	if email == "" {
		email = link.Email
	}
	v.deps.navigateAfter(VerifiedRedirectDelay, loginTarget(email))
	return nil
}

// Resend mails a fresh link to the pending address. Calls inside the
// cooldown are refused without reaching the backend.
func (v *Verification) Resend(ctx context.Context) error {
	email, ok := v.PendingEmail(ctx)
	if !ok {
		return errNoPendingEmail
	}

	v.mu.Lock()
	if remaining := v.remainingLocked(); remaining > 0 {
		v.mu.Unlock()
		return &Error{Kind: KindCooldown, Message: "Please wait " + remaining.Round(time.Second).String() + " before requesting another email."}
	}
	v.state = ResendRequested
	v.mu.Unlock()

	err := v.deps.Auth.Resend(ctx, "signup", email)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = AwaitingClick
	if err != nil {
		return classify(err)
	}
	v.lastResend = v.deps.now()
	return nil
}

func (v *Verification) CooldownRemaining() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.remainingLocked()
}

// Abandon forgets the pending address and returns to login.
func (v *Verification) Abandon(ctx context.Context) {
	v.deps.clearPending(ctx)
	v.setState(AwaitingClick)
	v.deps.navigate(nav.To(nav.RouteLogin))
}

// ensureProfile recreates a profile that failed to be written at signup.
// Failures are logged; the role resolver copes with a missing profile.
func (v *Verification) ensureProfile(ctx context.Context, user backend.User) {
	logger := v.deps.logger()
	existing, err := v.deps.Profiles.Select(ctx, user.ID)
	if errors.Is(err, backend.ErrNoSession) {
		logger.DebugContext(ctx, "profile check skipped without session", "user_id", user.ID)
		return
	}
	if err != nil {
		logger.WarnContext(ctx, "profile check after verification failed", "user_id", user.ID, "error", err)
		return
	}
	if existing != nil || !user.Metadata.Role.Valid() {
		return
	}
	if err := v.deps.Profiles.Upsert(ctx, model.ProfileFromMetadata(user.ID, user.Metadata)); err != nil {
		logger.WarnContext(ctx, "profile sync failed after verification", "user_id", user.ID, "error", err)
	}
}

func (v *Verification) remainingLocked() time.Duration {
	if v.lastResend.IsZero() {
		return 0
	}
	remaining := v.cooldown - v.deps.now().Sub(v.lastResend)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (v *Verification) fail() {
	v.setState(VerificationFailed)
	v.deps.navigateAfter(FailedRedirectDelay, nav.To(nav.RouteSignup))
}

func (v *Verification) setState(state VerificationState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state
}

func loginTarget(email string) nav.Target {
	params := url.Values{"verified": {"true"}}
	if email = strings.TrimSpace(email); email != "" {
		params.Set("email", email)
	}
	return nav.Target{Route: nav.RouteLogin, Params: params}
}
