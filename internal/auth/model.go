package auth

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	ID               string
	Username         string
	Email            string
	Role             Role
	PasswordHash     string
	SuspendedUntil   *time.Time
	SuspensionReason *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (u User) SuspendedAt(now time.Time) bool {
	return u.SuspendedUntil != nil && now.Before(*u.SuspendedUntil)
}

type NewUser struct {
	Username     string
	Email        string
	Role         Role
	PasswordHash string
}

// PublicUser is the user view returned to clients.
type PublicUser struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	Role             Role       `json:"role"`
	SuspendedUntil   *time.Time `json:"suspendedUntil,omitempty"`
	SuspensionReason *string    `json:"suspensionReason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Role:             u.Role,
		SuspendedUntil:   u.SuspendedUntil,
		SuspensionReason: u.SuspensionReason,
		CreatedAt:        u.CreatedAt,
	}
}

type TokenPair struct {
	AccessToken      AccessToken
	RefreshToken     RefreshToken
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Identity is what a verified bearer token proves about its holder.
type Identity struct {
	SubjectID string
	Role      Role
	Class     KeyClass
	Audience  []string
	ExpiresAt time.Time
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
