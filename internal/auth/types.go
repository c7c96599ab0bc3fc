package auth

import (
	"strings"
	"time"
)

// Role is one of the fixed operational roles. Roles form a strict hierarchy:
// each role inherits every grant of the roles below it.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleDirector    Role = "director"
	RoleFrontOffice Role = "front_office"
	RoleCadet       Role = "cadet"
)

// ParseRole normalizes a role string. Unknown values are rejected.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleDirector:
		return RoleDirector, true
	case RoleFrontOffice:
		return RoleFrontOffice, true
	case RoleCadet:
		return RoleCadet, true
	default:
		return "", false
	}
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a staff account able to authenticate and receive assignments.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	Status       string    `json:"status"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Active reports whether the user may authenticate or receive work.
func (u User) Active() bool { return u.Status == UserStatusActive }

// Identity is the verified, request-scoped claim set derived from a bearer
// token. It is ephemeral and never persisted apart from the token itself.
type Identity struct {
	SubjectID string
	Role      Role
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
