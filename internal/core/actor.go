package core

import "fmt"

// Actor is the caller of a ledger operation, as resolved from the user role table.
type Actor struct {
	UserID           string
	Role             Role
	DefaultAccountID *string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) RequireAdmin(action string) error {
	if a.UserID == "" {
		return ErrUnauthenticated
	}
	if !a.IsAdmin() {
		return fmt.Errorf("%s requires admin: %w", action, ErrForbidden)
	}
	return nil
}

func (a Actor) RequireUser() error {
	if a.UserID == "" || !a.Role.Valid() {
		return ErrUnauthenticated
	}
	return nil
}
