package flows

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"weversity/services/learner-app/internal/model"
	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/role"
)

type LoginState int

const (
	LoginEditing LoginState = iota
	LoginSubmitting
	LoginSuccess
	LoginFailed
)

type Login struct {
	deps Deps

	mu      sync.Mutex
	state   LoginState
	failure Kind
}

func NewLogin(deps Deps) *Login {
	return &Login{deps: deps, state: LoginEditing}
}

func (l *Login) State() (LoginState, Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.failure
}

// Prefill reads the parameters the verification screen redirects with.
func Prefill(params url.Values) (email string, verified bool) {
	return params.Get("email"), params.Get("verified") == "true"
}

func (l *Login) Submit(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	fields := FieldErrors{}
	requireField(fields, "email", email)
	if password == "" {
		fields["password"] = msgRequired
	}

	l.mu.Lock()
	if !fields.Empty() {
		l.state, l.failure = LoginEditing, ""
		l.mu.Unlock()
		return validationError(fields)
	}
	if l.state == LoginSubmitting {
		l.mu.Unlock()
		return &Error{Kind: KindGeneric, Message: "A sign in is already in progress."}
	}
	l.state, l.failure = LoginSubmitting, ""
	l.mu.Unlock()

	if err := l.deps.Session.Login(ctx, email, password); err != nil {
		flowErr := classifyLogin(err)
		l.mu.Lock()
		l.state, l.failure = LoginFailed, flowErr.Kind
		l.mu.Unlock()
		return flowErr
	}

	current, _ := l.deps.Session.Session()
	resolved := model.RoleUnset
	if l.deps.Roles != nil {
		r, err := l.deps.Roles.Resolve(ctx, current.UserID)
		if err != nil {
			l.deps.logger().WarnContext(ctx, "role lookup failed", "user_id", current.UserID, "error", err)
		}
		resolved = r
	}
	l.deps.Session.SetRole(current.UserID, resolved)
	l.deps.clearPending(ctx)

	l.mu.Lock()
	l.state = LoginSuccess
	l.mu.Unlock()
	l.deps.navigate(nav.To(role.LandingRoute(resolved)))
	return nil
}
