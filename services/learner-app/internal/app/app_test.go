package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/backend/fake"
	"weversity/services/learner-app/internal/config"
	"weversity/services/learner-app/internal/flows"
	"weversity/services/learner-app/internal/flows/flowstest"
	"weversity/services/learner-app/internal/model"
	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/nav/navtest"
	"weversity/services/learner-app/internal/session"
	"weversity/services/learner-app/internal/storage"
)

func newTestApp(t *testing.T, requireVerification bool) (*App, *fake.Backend, *navtest.Recorder, *flowstest.ManualScheduler) {
	t.Helper()
	return newSplitApp(t, requireVerification, requireVerification)
}

func newSplitApp(t *testing.T, backendGate, requireVerification bool) (*App, *fake.Backend, *navtest.Recorder, *flowstest.ManualScheduler) {
	t.Helper()
	b := fake.New()
	b.RequireEmailVerification = backendGate
	recorder := &navtest.Recorder{}
	sched := &flowstest.ManualScheduler{}
	a := Assemble(Options{
		Backend:                  b,
		KV:                       storage.NewMemory(),
		Navigator:                recorder,
		Scheduler:                sched,
		RequireEmailVerification: requireVerification,
	})
	t.Cleanup(func() { _ = a.Close() })
	return a, b, recorder, sched
}

func TestStartRoutesSignedOutUserToEntry(t *testing.T) {
	a, _, recorder, _ := newTestApp(t, false)
	require.NoError(t, a.Start(context.Background()))

	assert.Equal(t, session.StateSignedOut, a.Session.Snapshot().State)
	assert.Equal(t, []nav.Target{nav.To(nav.RouteEntry)}, recorder.History())
}

func TestSignupThenLogoutThenLogin(t *testing.T) {
	a, _, recorder, _ := newTestApp(t, false)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	err := a.Signup().SignupStudent(ctx, flows.SignupForm{
		FirstName:            "Bilal",
		UserName:             "bilal",
		Email:                "bilal@example.com",
		PhoneNumber:          "+923001234567",
		Password:             "secret1",
		PasswordConfirmation: "secret1",
	})
	require.NoError(t, err)
	assert.True(t, a.Session.Authenticated())
	last, _ := recorder.Last()
	assert.Equal(t, nav.To(nav.RouteMainLive), last)

	a.Logout(ctx)
	assert.False(t, a.Session.Authenticated())
	last, _ = recorder.Last()
	assert.Equal(t, nav.To(nav.RouteEntry), last)

	require.NoError(t, a.Login().Submit(ctx, "bilal@example.com", "secret1"))
	current, ok := a.Session.Session()
	require.True(t, ok)
	assert.Equal(t, model.RoleStudent, current.Role)
}

func bilalForm() flows.SignupForm {
	return flows.SignupForm{
		FirstName:            "Bilal",
		UserName:             "bilal",
		Email:                "bilal@example.com",
		PhoneNumber:          "+923001234567",
		Password:             "secret1",
		PasswordConfirmation: "secret1",
	}
}

func TestSignupAndLoginShowLiveOnce(t *testing.T) {
	a, _, recorder, _ := newTestApp(t, false)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	require.NoError(t, a.Signup().SignupStudent(ctx, bilalForm()))
	assert.Equal(t, []nav.Target{nav.To(nav.RouteEntry), nav.To(nav.RouteMainLive)}, recorder.History())

	a.Logout(ctx)
	require.NoError(t, a.Login().Submit(ctx, "bilal@example.com", "secret1"))
	assert.Equal(t, []nav.Target{
		nav.To(nav.RouteEntry),
		nav.To(nav.RouteMainLive),
		nav.To(nav.RouteEntry),
		nav.To(nav.RouteMainLive),
	}, recorder.History())
}

func TestClientVerificationGateNeverShowsLive(t *testing.T) {
	a, b, recorder, _ := newSplitApp(t, false, true)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	require.NoError(t, a.Signup().SignupStudent(ctx, bilalForm()))
	assert.False(t, a.Session.Authenticated())
	pending, ok, err := a.KV.Get(ctx, session.PendingVerificationKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bilal@example.com", pending)

	err = a.Login().Submit(ctx, "bilal@example.com", "secret1")
	assert.Equal(t, flows.KindEmailNotVerified, flows.KindOf(err))
	assert.False(t, a.Session.Authenticated())

	history := recorder.History()
	require.Len(t, history, 2)
	assert.Equal(t, nav.To(nav.RouteEntry), history[0])
	assert.Equal(t, nav.RouteVerifyEmail, history[1].Route)

	// Once verified the same credentials get in.
	token, ok := b.VerificationToken("bilal@example.com")
	require.True(t, ok)
	require.NoError(t, a.OpenLink(ctx, backend.StaticLink("weversity://auth/verified#token="+token+"&type=signup")))
	require.NoError(t, a.Login().Submit(ctx, "bilal@example.com", "secret1"))
	assert.True(t, a.Session.Authenticated())
	last, _ := recorder.Last()
	assert.Equal(t, nav.To(nav.RouteMainLive), last)
}

func TestOpenLinkVerifiesPendingSignup(t *testing.T) {
	a, b, recorder, sched := newTestApp(t, true)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	err := a.Signup().SignupTeacher(ctx, flows.SignupForm{
		FirstName:            "Sana",
		UserName:             "sana",
		Email:                "sana@example.com",
		PhoneNumber:          "03001234567",
		Password:             "secret1",
		PasswordConfirmation: "secret1",
		Expertise:            "Chemistry",
	})
	require.NoError(t, err)
	last, _ := recorder.Last()
	assert.Equal(t, nav.RouteVerifyEmail, last.Route)

	token, ok := b.VerificationToken("sana@example.com")
	require.True(t, ok)
	link := backend.StaticLink("weversity://auth/verified#token=" + token + "&type=signup")
	require.NoError(t, a.OpenLink(ctx, link))

	sched.Advance(flows.VerifiedRedirectDelay)
	last, _ = recorder.Last()
	assert.Equal(t, nav.RouteLogin, last.Route)
	assert.Equal(t, "true", last.Params.Get("verified"))

	require.NoError(t, a.Login().Submit(ctx, "sana@example.com", "secret1"))
	current, ok := a.Session.Session()
	require.True(t, ok)
	assert.Equal(t, model.RoleTeacher, current.Role)
}

func TestOpenLinkIgnoresPlainLinks(t *testing.T) {
	a, _, recorder, _ := newTestApp(t, false)
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.OpenLink(context.Background(), backend.StaticLink("weversity://courses/42")))
	require.NoError(t, a.OpenLink(context.Background(), backend.StaticLink("")))
	assert.Len(t, recorder.History(), 1)
}

func TestNewUsesSQLiteStorage(t *testing.T) {
	cfg := config.Config{
		APIURL:      "http://127.0.0.1:1",
		StoragePath: filepath.Join(t.TempDir(), "learner.db"),
	}
	recorder := &navtest.Recorder{}
	a, err := New(cfg, recorder, &flowstest.ManualScheduler{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, session.StateSignedOut, a.Session.Snapshot().State)

	require.NoError(t, a.KV.Set(context.Background(), session.PendingVerificationKey, "x@example.com"))
	value, ok, err := a.KV.Get(context.Background(), session.PendingVerificationKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x@example.com", value)
	require.NoError(t, a.Close())
}
