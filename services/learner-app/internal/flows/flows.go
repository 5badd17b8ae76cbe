// Package flows implements the credential state machines: signup, login,
// email verification and password reset. Every failure a flow returns is a
// *Error, so backend errors never reach the caller unmapped.
package flows

import (
	"context"
	"log/slog"
	"time"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/role"
	"weversity/services/learner-app/internal/session"
)

const (
	VerifiedRedirectDelay  = 1200 * time.Millisecond
	FailedRedirectDelay    = 2000 * time.Millisecond
	ResetDoneRedirectDelay = 9000 * time.Millisecond
	DefaultResendCooldown  = 60 * time.Second
)

// Deps are the collaborators shared by all flows.
type Deps struct {
	Auth      backend.Auth
	Profiles  backend.Profiles
	Recovery  backend.Recovery
	KV        backend.KeyValue
	Session   *session.Store
	Roles     *role.Resolver
	Navigator nav.Navigator
	Scheduler Scheduler
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d Deps) clearPending(ctx context.Context) {
	if err := d.KV.Remove(ctx, session.PendingVerificationKey); err != nil {
		d.logger().WarnContext(ctx, "clear pending verification failed", "error", err)
	}
}

func (d Deps) navigate(target nav.Target) {
	if d.Navigator != nil {
		d.Navigator.Replace(target)
	}
}

func (d Deps) navigateAfter(delay time.Duration, target nav.Target) {
	if d.Scheduler == nil {
		d.navigate(target)
		return
	}
	d.Scheduler.After(delay, func() { d.navigate(target) })
}
