// Package role turns a user's Profile into the role that picks their
// dashboard. It is the one place role-based branching lives.
package role

import (
	"context"
	"fmt"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/model"
	"weversity/services/learner-app/internal/nav"
)

type Dashboard string

const (
	DashboardNone    Dashboard = ""
	StudentDashboard Dashboard = "StudentDashboard"
	TeacherDashboard Dashboard = "TeacherDashboard"
)

type Resolver struct {
	profiles backend.Profiles
}

func NewResolver(profiles backend.Profiles) *Resolver {
	return &Resolver{profiles: profiles}
}

// Resolve returns RoleUnset when the user has no profile yet, or one whose
// role is not recognised.
func (r *Resolver) Resolve(ctx context.Context, userID string) (model.Role, error) {
	if userID == "" {
		return model.RoleUnset, nil
	}
	profile, err := r.profiles.Select(ctx, userID)
	if err != nil {
		return model.RoleUnset, fmt.Errorf("select profile: %w", err)
	}
	if profile == nil || !profile.Role.Valid() {
		return model.RoleUnset, nil
	}
	return profile.Role, nil
}

func DashboardFor(role model.Role) Dashboard {
	switch role {
	case model.RoleStudent:
		return StudentDashboard
	case model.RoleTeacher:
		return TeacherDashboard
	default:
		return DashboardNone
	}
}

// LandingRoute is where a signed-in user lands. Both roles, and an unresolved
// role, share the live tab.
func LandingRoute(model.Role) nav.Route {
	return nav.RouteMainLive
}
