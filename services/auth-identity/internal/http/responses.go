package http

import (
	"time"

	"weversity/services/auth-identity/internal/model"
)

type userMetadata struct {
	Role        string `json:"role"`
	FullName    string `json:"full_name,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Expertise   string `json:"expertise,omitempty"`
}

type userResponse struct {
	ID               string       `json:"id"`
	Email            string       `json:"email"`
	EmailVerified    bool         `json:"email_verified"`
	EmailConfirmedAt *int64       `json:"email_confirmed_at,omitempty"`
	CreatedAt        int64        `json:"created_at"`
	UserMetadata     userMetadata `json:"user_metadata"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         userResponse `json:"user"`
}

type profileResponse struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Email       string `json:"email,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Expertise   string `json:"expertise,omitempty"`
}

func mapUser(user model.User) userResponse {
	resp := userResponse{
		ID:            user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified(),
		CreatedAt:     user.CreatedAt.Unix(),
		UserMetadata: userMetadata{
			Role:        string(user.Metadata.Role),
			FullName:    user.Metadata.FullName,
			UserName:    user.Metadata.UserName,
			PhoneNumber: user.Metadata.PhoneNumber,
			AvatarURL:   user.Metadata.AvatarURL,
			Bio:         user.Metadata.Bio,
			Expertise:   user.Metadata.Expertise,
		},
	}
	if user.EmailVerifiedAt != nil {
		confirmed := user.EmailVerifiedAt.Unix()
		resp.EmailConfirmedAt = &confirmed
	}
	return resp
}

func mapProfile(profile model.Profile) profileResponse {
	return profileResponse{
		ID:          profile.ID,
		Role:        string(profile.Role),
		Email:       profile.Email,
		FullName:    profile.FullName,
		UserName:    profile.UserName,
		PhoneNumber: profile.PhoneNumber,
		AvatarURL:   profile.AvatarURL,
		Bio:         profile.Bio,
		Expertise:   profile.Expertise,
	}
}

func mapSession(user model.User, accessToken, refreshToken string, ttl time.Duration, now time.Time) sessionResponse {
	return sessionResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(ttl.Seconds()),
		ExpiresAt:    now.Add(ttl).Unix(),
		User:         mapUser(user),
	}
}
