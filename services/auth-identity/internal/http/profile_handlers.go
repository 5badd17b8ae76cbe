package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"weversity/services/auth-identity/internal/model"
)

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if claims == nil || claims.UserID != id {
		writeError(w, http.StatusForbidden, "forbidden", "Profiles can only be read by their owner")
		return
	}

	profile, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "profile_not_found", "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, mapProfile(profile))
}

type profileRequest struct {
	Role        string `json:"role"`
	FullName    string `json:"full_name"`
	UserName    string `json:"user_name"`
	PhoneNumber string `json:"phone_number"`
	AvatarURL   string `json:"avatar_url"`
	Bio         string `json:"bio"`
	Expertise   string `json:"expertise"`
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if claims == nil || claims.UserID != id {
		writeError(w, http.StatusForbidden, "forbidden", "Profiles can only be written by their owner")
		return
	}

	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	requested := model.Role(strings.TrimSpace(req.Role))
	if requested != "" && !requested.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_role", "Role must be either student or teacher")
		return
	}
	role, err := s.profileRole(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to save profile")
		return
	}
	switch {
	case role == "" && requested == "":
		writeError(w, http.StatusBadRequest, "invalid_role", "Role must be either student or teacher")
		return
	case role == "":
		role = requested
	case requested != "" && requested != role:
		s.metrics.observe("profile_update", "role_change_forbidden")
		writeError(w, http.StatusForbidden, "role_change_forbidden", "Role cannot be changed")
		return
	}

	now := s.now()
	profile := model.Profile{
		ID:          id,
		Role:        role,
		Email:       claims.Email,
		FullName:    strings.TrimSpace(req.FullName),
		UserName:    strings.TrimSpace(req.UserName),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		AvatarURL:   strings.TrimSpace(req.AvatarURL),
		Bio:         strings.TrimSpace(req.Bio),
		Expertise:   strings.TrimSpace(req.Expertise),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.UpsertProfile(r.Context(), profile); err != nil {
		s.logger.ErrorContext(r.Context(), "upsert profile failed", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, mapProfile(profile))
}

// profileRole is the role a profile is bound to: the stored profile's, else
// the one chosen at signup. Empty when neither exists.
func (s *Server) profileRole(ctx context.Context, userID string) (model.Role, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil && profile.Role.Valid():
		return profile.Role, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return "", err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.Metadata.Role.Valid() {
		return user.Metadata.Role, nil
	}
	return "", nil
}

type dashboardResponse struct {
	Message string      `json:"message"`
	UserID  string      `json:"user_id"`
	Role    string      `json:"role"`
	Data    interface{} `json:"data"`
}

type studentDashboard struct {
	EnrolledCourses []string `json:"enrolledCourses"`
	UpcomingClasses []string `json:"upcomingClasses"`
	RecentActivity  []string `json:"recentActivity"`
}

type teacherDashboard struct {
	Courses         []string `json:"courses"`
	Students        []string `json:"students"`
	UpcomingClasses []string `json:"upcomingClasses"`
	Earnings        int      `json:"earnings"`
}

func (s *Server) handleStudentDashboard(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, dashboardResponse{
		Message: "Student dashboard",
		UserID:  claims.UserID,
		Role:    claims.Role,
		Data: studentDashboard{
			EnrolledCourses: []string{},
			UpcomingClasses: []string{},
			RecentActivity:  []string{},
		},
	})
}

func (s *Server) handleTeacherDashboard(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, dashboardResponse{
		Message: "Teacher dashboard",
		UserID:  claims.UserID,
		Role:    claims.Role,
		Data: teacherDashboard{
			Courses:         []string{},
			Students:        []string{},
			UpcomingClasses: []string{},
		},
	})
}
