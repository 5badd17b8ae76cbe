package backend

import (
	"time"

	"weversity/services/learner-app/internal/model"
)

type wireMetadata struct {
	Role        string `json:"role"`
	FullName    string `json:"full_name,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Expertise   string `json:"expertise,omitempty"`
}

type wireUser struct {
	ID            string       `json:"id"`
	Email         string       `json:"email"`
	EmailVerified bool         `json:"email_verified"`
	UserMetadata  wireMetadata `json:"user_metadata"`
}

type wireSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	User         wireUser `json:"user"`
}

type wireSignup struct {
	User    wireUser     `json:"user"`
	Session *wireSession `json:"session"`
}

type wireVerify struct {
	User wireUser `json:"user"`
}

type wireProfile struct {
	ID          string `json:"id,omitempty"`
	Role        string `json:"role"`
	FullName    string `json:"full_name,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Expertise   string `json:"expertise,omitempty"`
}

type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func metadataToWire(meta model.Metadata) wireMetadata {
	return wireMetadata{
		Role:        string(meta.Role),
		FullName:    meta.FullName,
		UserName:    meta.UserName,
		PhoneNumber: meta.PhoneNumber,
		AvatarURL:   meta.AvatarURL,
		Bio:         meta.Bio,
		Expertise:   meta.Expertise,
	}
}

func (u wireUser) toUser() User {
	return User{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Metadata: model.Metadata{
			Role:        model.Role(u.UserMetadata.Role),
			FullName:    u.UserMetadata.FullName,
			UserName:    u.UserMetadata.UserName,
			PhoneNumber: u.UserMetadata.PhoneNumber,
			AvatarURL:   u.UserMetadata.AvatarURL,
			Bio:         u.UserMetadata.Bio,
			Expertise:   u.UserMetadata.Expertise,
		},
	}
}

func userToWire(u User) wireUser {
	return wireUser{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		UserMetadata:  metadataToWire(u.Metadata),
	}
}

func (s wireSession) toSession() AuthSession {
	return AuthSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    time.Unix(s.ExpiresAt, 0).UTC(),
		User:         s.User.toUser(),
	}
}

func sessionToWire(s AuthSession) wireSession {
	return wireSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt.Unix(),
		User:         userToWire(s.User),
	}
}

func profileToWire(p model.Profile) wireProfile {
	return wireProfile{
		Role:        string(p.Role),
		FullName:    p.FullName,
		UserName:    p.UserName,
		PhoneNumber: p.PhoneNumber,
		AvatarURL:   p.AvatarURL,
		Bio:         p.Bio,
		Expertise:   p.Expertise,
	}
}

func (p wireProfile) toProfile() model.Profile {
	return model.Profile{
		ID:          p.ID,
		Role:        model.Role(p.Role),
		FullName:    p.FullName,
		UserName:    p.UserName,
		PhoneNumber: p.PhoneNumber,
		AvatarURL:   p.AvatarURL,
		Bio:         p.Bio,
		Expertise:   p.Expertise,
	}
}
