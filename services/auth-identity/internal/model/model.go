package model

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// UserMetadata is captured at signup and kept on the auth user so a missing
// profile row can be rebuilt later.
type UserMetadata struct {
	Role        Role   `json:"role"`
	FullName    string `json:"full_name,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Expertise   string `json:"expertise,omitempty"`
}

type User struct {
	ID              string
	Email           string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	Metadata        UserMetadata
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (u User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

type Profile struct {
	ID          string
	Role        Role
	Email       string
	FullName    string
	UserName    string
	PhoneNumber string
	AvatarURL   string
	Bio         string
	Expertise   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func ProfileFromMetadata(user User) Profile {
	return Profile{
		ID:          user.ID,
		Role:        user.Metadata.Role,
		Email:       user.Email,
		FullName:    user.Metadata.FullName,
		UserName:    user.Metadata.UserName,
		PhoneNumber: user.Metadata.PhoneNumber,
		AvatarURL:   user.Metadata.AvatarURL,
		Bio:         user.Metadata.Bio,
		Expertise:   user.Metadata.Expertise,
	}
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}
