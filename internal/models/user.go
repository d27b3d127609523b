package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Application roles. Authorization treats roles as opaque strings,
// these two are just the ones the service itself provisions.
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

type User struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    *time.Time
	Email        string
	FirstName    string
	LastName     string
	Roles        []string
	PasswordHash string
	LockedUntil  *time.Time
}

func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

func (u *User) Principal() Principal {
	return Principal{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Roles:     slices.Clone(u.Roles),
	}
}

// Principal is the immutable identity snapshot produced per authentication
// event. Handlers and tokens carry it around instead of the full user row.
type Principal struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string
	Roles     []string
}

func (p Principal) DisplayName() string {
	switch {
	case p.FirstName == "" && p.LastName == "":
		return p.Email
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// HasAnyRole reports whether the principal holds at least one of the roles.
// An empty argument list means no role requirement and always passes.
func (p Principal) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}
