package role

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/backend/fake"
	"weversity/services/learner-app/internal/model"
	"weversity/services/learner-app/internal/nav"
)

func TestResolveReadsProfileRole(t *testing.T) {
	b := fake.New()
	require.NoError(t, b.Upsert(context.Background(), model.Profile{ID: "user-1", Role: model.RoleTeacher}))

	got, err := NewResolver(b).Resolve(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleTeacher, got)
}

func TestResolveMissingProfileIsUnset(t *testing.T) {
	got, err := NewResolver(fake.New()).Resolve(context.Background(), "user-404")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUnset, got)

	got, err = NewResolver(fake.New()).Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUnset, got)
}

func TestResolveSurfacesBackendFailure(t *testing.T) {
	b := fake.New()
	b.SetNetworkDown(true)

	got, err := NewResolver(b).Resolve(context.Background(), "user-1")
	require.ErrorIs(t, err, backend.ErrUnavailable)
	assert.Equal(t, model.RoleUnset, got)
}

func TestDashboardAndLanding(t *testing.T) {
	assert.Equal(t, StudentDashboard, DashboardFor(model.RoleStudent))
	assert.Equal(t, TeacherDashboard, DashboardFor(model.RoleTeacher))
	assert.Equal(t, DashboardNone, DashboardFor(model.RoleUnset))

	for _, r := range []model.Role{model.RoleStudent, model.RoleTeacher, model.RoleUnset} {
		assert.Equal(t, nav.RouteMainLive, LandingRoute(r))
	}
}
