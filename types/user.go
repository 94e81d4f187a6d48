package types

import "time"

// Roles a user can hold. Role gates which marketplace operations a
// principal may perform.
const (
	RoleUser     = "USER"
	RoleProvider = "PROVIDER"
	RoleAdmin    = "ADMIN"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. Unique across accounts and
	// used as the login identifier.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level within the
	// marketplace: USER, PROVIDER, or ADMIN.
	Role string `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Principal is the authenticated identity making a request, resolved
// from a bearer token. Core operations take it explicitly rather than
// reading ambient session state.
type Principal struct {
	UserID int
	Role   string
}
