package model

type Role string

const (
	RoleUnset   Role = ""
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// Metadata is the signup payload stored on the auth user. It is also the
// source used to rebuild a Profile that failed to be written at signup.
type Metadata struct {
	Role        Role
	FullName    string
	UserName    string
	PhoneNumber string
	AvatarURL   string
	Bio         string
	Expertise   string
}

// Profile is keyed by user id and carries the user's role.
type Profile struct {
	ID          string
	Role        Role
	FullName    string
	UserName    string
	PhoneNumber string
	AvatarURL   string
	Bio         string
	Expertise   string
}

func ProfileFromMetadata(userID string, meta Metadata) Profile {
	return Profile{
		ID:          userID,
		Role:        meta.Role,
		FullName:    meta.FullName,
		UserName:    meta.UserName,
		PhoneNumber: meta.PhoneNumber,
		AvatarURL:   meta.AvatarURL,
		Bio:         meta.Bio,
		Expertise:   meta.Expertise,
	}
}

// Session is the authenticated identity held for the process lifetime.
type Session struct {
	UserID        string
	Email         string
	EmailVerified bool
	Role          Role
}

type Course struct {
	ID      string
	Title   string
	Teacher string
}
