package flows

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/backend/fake"
	"weversity/services/learner-app/internal/deeplink"
	"weversity/services/learner-app/internal/flows/flowstest"
	"weversity/services/learner-app/internal/model"
	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/nav/navtest"
	"weversity/services/learner-app/internal/role"
	"weversity/services/learner-app/internal/session"
	"weversity/services/learner-app/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	backend *fake.Backend
	kv      *storage.Memory
	store   *session.Store
	nav     *navtest.Recorder
	sched   *flowstest.ManualScheduler
	clock   *clock
	deps    Deps
}

func newHarness(t *testing.T, requireVerification bool) *harness {
	t.Helper()
	return newSplitHarness(t, requireVerification, requireVerification)
}

// newSplitHarness lets the backend and the client disagree about whether
// verification is required.
func newSplitHarness(t *testing.T, backendGate, clientGate bool) *harness {
	t.Helper()
	b := fake.New()
	b.RequireEmailVerification = backendGate
	kv := storage.NewMemory()
	store := session.New(b, kv, session.Options{RequireEmailVerification: clientGate})
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(store.Stop)

	h := &harness{
		backend: b,
		kv:      kv,
		store:   store,
		nav:     &navtest.Recorder{},
		sched:   &flowstest.ManualScheduler{},
		clock:   &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.deps = Deps{
		Auth:      b,
		Profiles:  b,
		Recovery:  b,
		KV:        kv,
		Session:   store,
		Roles:     role.NewResolver(b),
		Navigator: h.nav,
		Scheduler: h.sched,
		Now:       h.clock.Now,
	}
	return h
}

func (h *harness) last(t *testing.T) nav.Target {
	t.Helper()
	target, ok := h.nav.Last()
	require.True(t, ok, "expected a navigation")
	return target
}

func (h *harness) pending(t *testing.T) (string, bool) {
	t.Helper()
	value, ok, err := h.kv.Get(context.Background(), session.PendingVerificationKey)
	require.NoError(t, err)
	return value, ok
}

func studentForm() SignupForm {
	return SignupForm{
		FirstName:            "Ayesha",
		LastName:             "Khan",
		UserName:             "ayesha",
		Email:                "foo@example.com",
		PhoneNumber:          "0300 1234567",
		Password:             "abc123",
		PasswordConfirmation: "abc123",
	}
}

func TestSignupValidationNeverReachesBackend(t *testing.T) {
	h := newHarness(t, false)
	h.backend.SetNetworkDown(true)
	signup := NewSignup(h.deps)

	form := studentForm()
	form.Email = "not-an-email"
	form.PasswordConfirmation = "abc124"
	form.PhoneNumber = "12"
	form.UserName = " "

	err := signup.SignupStudent(context.Background(), form)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	fields := signup.FieldErrors()
	assert.Equal(t, msgInvalidEmail, fields["email"])
	assert.Equal(t, msgPasswordMismatch, fields["password_confirmation"])
	assert.Equal(t, msgInvalidPhone, fields["phone_number"])
	assert.Equal(t, msgRequired, fields["user_name"])
	assert.Equal(t, SignupEditing, signup.State())
	assert.Empty(t, h.nav.History())
}

func TestSignupShortPassword(t *testing.T) {
	form := studentForm()
	form.Password, form.PasswordConfirmation = "abc", "abc"
	_, fields := ValidateSignup(form)
	assert.Equal(t, msgShortPassword, fields["password"])
}

func TestStudentSignupLandsOnLiveTab(t *testing.T) {
	h := newHarness(t, false)
	signup := NewSignup(h.deps)

	require.NoError(t, signup.SignupStudent(context.Background(), studentForm()))
	assert.Equal(t, SignupSuccess, signup.State())
	assert.Equal(t, nav.To(nav.RouteMainLive), h.last(t))

	current, ok := h.store.Session()
	require.True(t, ok)
	assert.Equal(t, "foo@example.com", current.Email)
	assert.Equal(t, model.RoleStudent, current.Role)

	profile, ok := h.backend.Profile(current.UserID)
	require.True(t, ok)
	assert.Equal(t, "Ayesha Khan", profile.FullName)
	assert.Equal(t, "+923001234567", profile.PhoneNumber)
	assert.Empty(t, profile.Expertise)
}

func TestTeacherSignupKeepsExpertise(t *testing.T) {
	h := newHarness(t, false)
	signup := NewSignup(h.deps)

	form := studentForm()
	form.Expertise = "Mathematics"
	require.NoError(t, signup.SignupTeacher(context.Background(), form))

	current, ok := h.store.Session()
	require.True(t, ok)
	assert.Equal(t, model.RoleTeacher, current.Role)
	profile, ok := h.backend.Profile(current.UserID)
	require.True(t, ok)
	assert.Equal(t, model.RoleTeacher, profile.Role)
	assert.Equal(t, "Mathematics", profile.Expertise)
}

func TestSignupSucceedsWhenProfileSyncFails(t *testing.T) {
	h := newHarness(t, false)
	h.backend.UpsertErr = errors.New("row level security")
	signup := NewSignup(h.deps)

	require.NoError(t, signup.SignupStudent(context.Background(), studentForm()))
	assert.Equal(t, SignupSuccess, signup.State())
	assert.True(t, h.store.Authenticated())
	assert.Equal(t, nav.To(nav.RouteMainLive), h.last(t))
}

func TestSignupDuplicateEmail(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))
	h.store.Logout(context.Background())

	signup := NewSignup(h.deps)
	err := signup.SignupStudent(context.Background(), studentForm())
	assert.Equal(t, KindDuplicateAccount, KindOf(err))
	assert.Equal(t, SignupFailed, signup.State())
}

func TestSignupNetworkFailure(t *testing.T) {
	h := newHarness(t, false)
	h.backend.SetNetworkDown(true)

	err := NewSignup(h.deps).SignupStudent(context.Background(), studentForm())
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.False(t, h.store.Authenticated())
}

func TestGatedSignupAwaitsVerification(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))

	assert.False(t, h.store.Authenticated())
	email, ok := h.pending(t)
	require.True(t, ok)
	assert.Equal(t, "foo@example.com", email)

	want := nav.Target{Route: nav.RouteVerifyEmail, Params: url.Values{"email": {"foo@example.com"}}}
	assert.True(t, want.Equal(h.last(t)), "got %s", h.last(t))
}

func TestClientGateHoldsBackSignupSession(t *testing.T) {
	h := newSplitHarness(t, false, true)
	signup := NewSignup(h.deps)
	require.NoError(t, signup.SignupStudent(context.Background(), studentForm()))

	assert.Equal(t, SignupSuccess, signup.State())
	assert.False(t, h.store.Authenticated())
	email, ok := h.pending(t)
	require.True(t, ok)
	assert.Equal(t, "foo@example.com", email)

	backendSession, err := h.backend.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, backendSession)

	want := nav.Target{Route: nav.RouteVerifyEmail, Params: url.Values{"email": {"foo@example.com"}}}
	require.Len(t, h.nav.History(), 1)
	assert.True(t, want.Equal(h.last(t)), "got %s", h.last(t))
}

func TestClientGateRefusesUnverifiedLogin(t *testing.T) {
	h := newSplitHarness(t, false, true)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))
	before := len(h.nav.History())

	err := NewLogin(h.deps).Submit(context.Background(), "foo@example.com", "abc123")
	assert.Equal(t, KindEmailNotVerified, KindOf(err))
	assert.False(t, h.store.Authenticated())
	assert.Len(t, h.nav.History(), before)
}

func TestLoginResolvesRoleFromProfile(t *testing.T) {
	h := newHarness(t, false)
	form := studentForm()
	form.Expertise = "Physics"
	require.NoError(t, NewSignup(h.deps).SignupTeacher(context.Background(), form))
	h.store.Logout(context.Background())
	require.False(t, h.store.Authenticated())

	login := NewLogin(h.deps)
	require.NoError(t, login.Submit(context.Background(), " foo@example.com ", "abc123"))

	state, kind := login.State()
	assert.Equal(t, LoginSuccess, state)
	assert.Empty(t, kind)
	current, ok := h.store.Session()
	require.True(t, ok)
	assert.Equal(t, model.RoleTeacher, current.Role)
	assert.Equal(t, nav.To(nav.RouteMainLive), h.last(t))
}

func TestLoginWithoutProfileLeavesRoleUnset(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.backend.SignUp(context.Background(), "bare@example.com", "abc123", model.Metadata{})
	require.NoError(t, err)
	require.NoError(t, h.backend.SignOut(context.Background()))

	require.NoError(t, NewLogin(h.deps).Submit(context.Background(), "bare@example.com", "abc123"))
	current, ok := h.store.Session()
	require.True(t, ok)
	assert.Equal(t, model.RoleUnset, current.Role)
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))
	h.store.Logout(context.Background())
	before := len(h.nav.History())

	login := NewLogin(h.deps)
	err := login.Submit(context.Background(), "foo@example.com", "wrong-password")
	assert.Equal(t, KindInvalidCredentials, KindOf(err))
	state, kind := login.State()
	assert.Equal(t, LoginFailed, state)
	assert.Equal(t, KindInvalidCredentials, kind)
	assert.False(t, h.store.Authenticated())

	err = login.Submit(context.Background(), "", "")
	assert.Equal(t, KindValidation, KindOf(err))

	h.backend.SetNetworkDown(true)
	err = login.Submit(context.Background(), "foo@example.com", "abc123")
	assert.Equal(t, KindNetwork, KindOf(err))

	assert.Len(t, h.nav.History(), before)
}

func TestLoginRefusedUntilVerified(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))

	err := NewLogin(h.deps).Submit(context.Background(), "foo@example.com", "abc123")
	assert.Equal(t, KindEmailNotVerified, KindOf(err))
	assert.False(t, h.store.Authenticated())
}

func TestPrefillFromVerificationRedirect(t *testing.T) {
	email, verified := Prefill(url.Values{"email": {"foo@example.com"}, "verified": {"true"}})
	assert.Equal(t, "foo@example.com", email)
	assert.True(t, verified)

	_, verified = Prefill(url.Values{})
	assert.False(t, verified)
}

func TestVerificationLinkSucceeds(t *testing.T) {
	h := newHarness(t, true)
	h.backend.UpsertErr = errors.New("not allowed before verification")
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))
	h.backend.UpsertErr = nil

	token, ok := h.backend.VerificationToken("foo@example.com")
	require.True(t, ok)

	verification := NewVerification(h.deps, 0)
	err := verification.HandleLink(context.Background(), deeplink.Link{Token: token, Type: "signup"})
	require.NoError(t, err)
	assert.Equal(t, Verified, verification.State())

	_, ok = h.pending(t)
	assert.False(t, ok)

	assert.Equal(t, []time.Duration{VerifiedRedirectDelay}, h.sched.Pending())
	h.sched.Advance(VerifiedRedirectDelay)
	want := nav.Target{Route: nav.RouteLogin, Params: url.Values{"verified": {"true"}, "email": {"foo@example.com"}}}
	assert.True(t, want.Equal(h.last(t)), "got %s", h.last(t))

	profile, ok := h.backend.Profile("user-1")
	require.True(t, ok)
	assert.Equal(t, model.RoleStudent, profile.Role)

	require.NoError(t, NewLogin(h.deps).Submit(context.Background(), "foo@example.com", "abc123"))
	assert.True(t, h.store.Authenticated())
}

func TestVerificationLinkFails(t *testing.T) {
	h := newHarness(t, true)
	verification := NewVerification(h.deps, 0)

	err := verification.HandleLink(context.Background(), deeplink.Link{Token: "bogus"})
	require.Error(t, err)
	assert.Equal(t, VerificationFailed, verification.State())
	assert.Equal(t, []time.Duration{FailedRedirectDelay}, h.sched.Pending())

	h.sched.Advance(FailedRedirectDelay - time.Millisecond)
	assert.Empty(t, h.nav.History())
	h.sched.Advance(time.Millisecond)
	assert.Equal(t, nav.To(nav.RouteSignup), h.last(t))
}

func TestVerificationAlreadyConfirmed(t *testing.T) {
	h := newHarness(t, true)
	verification := NewVerification(h.deps, 0)

	require.NoError(t, verification.HandleLink(context.Background(), deeplink.Link{Verified: true, Email: "foo@example.com"}))
	assert.Equal(t, Verified, verification.State())
	h.sched.Advance(VerifiedRedirectDelay)
	assert.Equal(t, nav.RouteLogin, h.last(t).Route)
	assert.Equal(t, "foo@example.com", h.last(t).Params.Get("email"))
}

func TestResendHonoursCooldown(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))
	verification := NewVerification(h.deps, time.Minute)

	require.NoError(t, verification.Resend(context.Background()))
	assert.Equal(t, 1, h.backend.ResendCount("foo@example.com"))
	assert.Equal(t, 1, h.backend.OutstandingTokens("foo@example.com"))
	assert.Equal(t, time.Minute, verification.CooldownRemaining())

	err := verification.Resend(context.Background())
	assert.Equal(t, KindCooldown, KindOf(err))
	assert.Equal(t, 1, h.backend.ResendCount("foo@example.com"))

	h.clock.Advance(time.Minute)
	assert.Zero(t, verification.CooldownRemaining())
	require.NoError(t, verification.Resend(context.Background()))
	assert.Equal(t, 2, h.backend.ResendCount("foo@example.com"))
	assert.Equal(t, 1, h.backend.OutstandingTokens("foo@example.com"))
	assert.Equal(t, AwaitingClick, verification.State())
}

func TestResendWithoutPendingEmail(t *testing.T) {
	h := newHarness(t, true)
	err := NewVerification(h.deps, 0).Resend(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindGeneric, KindOf(err))
}

func TestAbandonVerification(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))

	NewVerification(h.deps, 0).Abandon(context.Background())
	_, ok := h.pending(t)
	assert.False(t, ok)
	assert.Equal(t, nav.To(nav.RouteLogin), h.last(t))
}

func typeCode(otp *OTPInput, code string) {
	for i, r := range code {
		otp.Type(i, string(r))
	}
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))
	h.store.Logout(context.Background())

	reset := NewReset(h.deps)
	require.NoError(t, reset.RequestOTP(context.Background(), "foo@example.com"))
	assert.Equal(t, ResetOTPEntry, reset.State())

	typeCode(&reset.OTP, "1234")
	require.NoError(t, reset.SubmitOTP(context.Background()))
	assert.Equal(t, ResetNewPassword, reset.State())

	err := reset.SetNewPassword(context.Background(), "newpass", "newpasz")
	assert.Equal(t, KindValidation, KindOf(err))

	require.NoError(t, reset.SetNewPassword(context.Background(), "newpass", "newpass"))
	assert.Equal(t, ResetDone, reset.State())
	assert.False(t, h.backend.HasOTP("foo@example.com"))

	h.sched.Advance(ResetDoneRedirectDelay)
	assert.Equal(t, nav.To(nav.RouteMainLive), h.last(t))

	err = NewLogin(h.deps).Submit(context.Background(), "foo@example.com", "abc123")
	assert.Equal(t, KindInvalidCredentials, KindOf(err))
	require.NoError(t, NewLogin(h.deps).Submit(context.Background(), "foo@example.com", "newpass"))
}

func TestPasswordResetWrongCode(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))

	reset := NewReset(h.deps)
	require.NoError(t, reset.RequestOTP(context.Background(), "foo@example.com"))

	typeCode(&reset.OTP, "9999")
	err := reset.SubmitOTP(context.Background())
	assert.Equal(t, KindInvalidOTP, KindOf(err))
	assert.Equal(t, ResetOTPEntry, reset.State())
	assert.Empty(t, reset.OTP.Code())
	assert.Equal(t, 0, reset.OTP.Focus())
}

func TestPasswordResetExpiredCode(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))

	reset := NewReset(h.deps)
	require.NoError(t, reset.RequestOTP(context.Background(), "foo@example.com"))
	h.backend.ExpireOTP("foo@example.com")

	typeCode(&reset.OTP, "1234")
	err := reset.SubmitOTP(context.Background())
	assert.Equal(t, KindOTPExpired, KindOf(err))
	assert.Equal(t, ResetRequestMethod, reset.State())
	assert.False(t, h.backend.HasOTP("foo@example.com"))
}

func TestPasswordResetLockedAfterWrongCodes(t *testing.T) {
	h := newHarness(t, false)
	h.backend.OTPAttemptLimit = 3
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))

	reset := NewReset(h.deps)
	require.NoError(t, reset.RequestOTP(context.Background(), "foo@example.com"))
	for i := 0; i < 2; i++ {
		typeCode(&reset.OTP, "9999")
		assert.Equal(t, KindInvalidOTP, KindOf(reset.SubmitOTP(context.Background())))
	}
	typeCode(&reset.OTP, "9999")
	err := reset.SubmitOTP(context.Background())
	assert.Equal(t, KindTooManyAttempts, KindOf(err))
	assert.Equal(t, ResetRequestMethod, reset.State())
	assert.False(t, h.backend.HasOTP("foo@example.com"))

	require.NoError(t, reset.RequestOTP(context.Background(), "foo@example.com"))
	typeCode(&reset.OTP, "1234")
	require.NoError(t, reset.SubmitOTP(context.Background()))
}

func TestSignupErrorsOnlyMapExistingAccounts(t *testing.T) {
	confirmed := &backend.APIError{Status: 400, Code: "bad_request", Message: "Email already confirmed"}
	assert.Equal(t, KindGeneric, classifySignup(confirmed).Kind)

	taken := &backend.APIError{Status: 422, Code: "user_exists", Message: "User already exists"}
	assert.Equal(t, KindDuplicateAccount, classifySignup(taken).Kind)
	assert.Equal(t, KindDuplicateAccount, classifySignup(errors.New("duplicate key value")).Kind)
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	h := newHarness(t, false)
	reset := NewReset(h.deps)

	err := reset.RequestOTP(context.Background(), "nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, "No account found with this email", err.Error())
	assert.Equal(t, ResetRequestMethod, reset.State())

	err = reset.SubmitOTP(context.Background())
	assert.Equal(t, KindGeneric, KindOf(err))
}

func TestOTPInputFocus(t *testing.T) {
	var otp OTPInput
	otp.Type(0, "1")
	assert.Equal(t, 1, otp.Focus())
	otp.Type(1, "a")
	assert.Equal(t, 1, otp.Focus())
	assert.Empty(t, otp.Cell(1))
	otp.Type(1, "27")
	otp.Type(2, "3")
	otp.Type(3, "4")
	assert.Equal(t, 3, otp.Focus())
	assert.Equal(t, "1734", otp.Code())
	assert.True(t, otp.Complete())

	otp.Backspace(3)
	assert.Equal(t, 2, otp.Focus())
	assert.False(t, otp.Complete())
	otp.Backspace(0)
	assert.Equal(t, 0, otp.Focus())
	assert.Equal(t, "73", otp.Code())
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0300 1234567":      "+923001234567",
		"3001234567":        "+923001234567",
		"+44 20 7946 0958":  "+442079460958",
		"0044 20 7946 0958": "+442079460958",
		"+1 650 253 0000":   "+16502530000",
		"042 3576 1234":     "+924235761234",
	}
	for raw, want := range cases {
		got, ok := NormalizePhone(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	invalid := []string{
		"", "12", "+0123456789", "phone",
		// Well formed but unassignable.
		"+10000000000", "+999123456789", "0300 12",
	}
	for _, raw := range invalid {
		_, ok := NormalizePhone(raw)
		assert.False(t, ok, raw)
	}
}

func TestPasswordResetResumed(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, NewSignup(h.deps).SignupStudent(context.Background(), studentForm()))
	require.NoError(t, NewReset(h.deps).RequestOTP(context.Background(), "foo@example.com"))

	reset := NewReset(h.deps)
	reset.Resume("foo@example.com")
	typeCode(&reset.OTP, "1234")
	require.NoError(t, reset.SubmitOTP(context.Background()))
	require.NoError(t, reset.SetNewPassword(context.Background(), "another", "another"))
	assert.Equal(t, ResetDone, reset.State())
}
