package flows

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"weversity/services/learner-app/internal/model"
	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/role"
	"weversity/services/learner-app/internal/session"
)

type SignupState int

const (
	SignupEditing SignupState = iota
	SignupSubmitting
	SignupSuccess
	SignupFailed
)

type SignupForm struct {
	FirstName            string
	LastName             string
	UserName             string
	Email                string
	PhoneNumber          string
	Password             string
	PasswordConfirmation string
	// Expertise is only sent for teachers.
	Expertise string
	Bio       string
	AvatarURL string
}

type Signup struct {
	deps Deps

	mu     sync.Mutex
	state  SignupState
	fields FieldErrors
}

func NewSignup(deps Deps) *Signup {
	return &Signup{deps: deps, state: SignupEditing}
}

func (s *Signup) State() SignupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Signup) FieldErrors() FieldErrors {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := FieldErrors{}
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

func (s *Signup) SignupStudent(ctx context.Context, form SignupForm) error {
	return s.submit(ctx, model.RoleStudent, form)
}

func (s *Signup) SignupTeacher(ctx context.Context, form SignupForm) error {
	return s.submit(ctx, model.RoleTeacher, form)
}

// ValidateSignup checks the form without touching the network and returns
// the normalised phone number alongside any field errors.
func ValidateSignup(form SignupForm) (string, FieldErrors) {
	errs := FieldErrors{}
	requireField(errs, "first_name", form.FirstName)
	requireField(errs, "user_name", form.UserName)
	if requireField(errs, "email", form.Email) && !ValidEmail(form.Email) {
		errs["email"] = msgInvalidEmail
	}
	validatePassword(errs, "password", form.Password, "password_confirmation", form.PasswordConfirmation)

	phone, ok := NormalizePhone(form.PhoneNumber)
	if !ok {
		errs["phone_number"] = msgInvalidPhone
	}
	return phone, errs
}

func (s *Signup) submit(ctx context.Context, r model.Role, form SignupForm) error {
	s.mu.Lock()
	if s.state == SignupSubmitting {
		s.mu.Unlock()
		return &Error{Kind: KindGeneric, Message: "A signup is already in progress."}
	}
	phone, fields := ValidateSignup(form)
	if !fields.Empty() {
		s.state = SignupEditing
		s.fields = fields
		s.mu.Unlock()
		return validationError(fields)
	}
	s.state = SignupSubmitting
	s.fields = nil
	s.mu.Unlock()

	email := strings.TrimSpace(form.Email)
	meta := model.Metadata{
		Role:        r,
		FullName:    strings.TrimSpace(strings.TrimSpace(form.FirstName) + " " + strings.TrimSpace(form.LastName)),
		UserName:    strings.TrimSpace(form.UserName),
		PhoneNumber: phone,
		Bio:         strings.TrimSpace(form.Bio),
		AvatarURL:   strings.TrimSpace(form.AvatarURL),
	}
	if r == model.RoleTeacher {
		meta.Expertise = strings.TrimSpace(form.Expertise)
	}

	result, err := s.deps.Auth.SignUp(ctx, email, form.Password, meta)
	if err != nil {
		s.setState(SignupFailed)
		return classifySignup(err)
	}

	logger := s.deps.logger()
	gated := result.Session != nil && s.deps.Session != nil &&
		s.deps.Session.RequiresVerification() && !result.User.EmailVerified
	if gated {
		// The backend issued a session the client does not accept yet.
		if err := s.deps.Auth.SignOut(ctx); err != nil {
			logger.WarnContext(ctx, "sign out of unverified signup failed", "error", err)
		}
	}
	if result.Session == nil || gated {
		if err := s.deps.KV.Set(ctx, session.PendingVerificationKey, result.User.Email); err != nil {
			logger.WarnContext(ctx, "store pending verification failed", "error", err)
		}
		s.setState(SignupSuccess)
		s.deps.navigate(nav.Target{Route: nav.RouteVerifyEmail, Params: url.Values{"email": {result.User.Email}}})
		return nil
	}

	if err := s.deps.Profiles.Upsert(ctx, model.ProfileFromMetadata(result.User.ID, meta)); err != nil {
		logger.WarnContext(ctx, "profile sync failed after signup", "user_id", result.User.ID, "error", err)
	}
	if err := s.deps.Session.RefreshUser(ctx); err != nil {
		logger.WarnContext(ctx, "refresh user after signup failed", "error", err)
	}
	s.deps.Session.SetRole(result.User.ID, r)
	s.deps.clearPending(ctx)

	s.setState(SignupSuccess)
	s.deps.navigate(nav.To(role.LandingRoute(r)))
	return nil
}

func (s *Signup) setState(state SignupState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}
