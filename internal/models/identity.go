package models

import "github.com/google/uuid"

// Identity is the caller on whose behalf an operation runs.
// It is passed explicitly; the zero value is an anonymous guest.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name,omitempty"`
	Phone  string    `json:"phone,omitempty"`
	Email  string    `json:"email,omitempty"`
	Roles  []string  `json:"roles,omitempty"`

	// Token is forwarded to the booking API as a bearer token
	Token string `json:"-"`
}

const (
	RoleGuest = "guest"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// IsAuthenticated reports whether an identity is attached
func (i Identity) IsAuthenticated() bool {
	return i.UserID != uuid.Nil
}

// HasRole reports whether the identity carries any of the roles
func (i Identity) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range i.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsStaff reports whether the identity may run staff actions
func (i Identity) IsStaff() bool {
	return i.HasRole(RoleStaff, RoleAdmin)
}
