package core

import "errors"

var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrArchived        = errors.New("archived")
	ErrImmutable       = errors.New("cleared transactions cannot be modified")
	ErrConflict        = errors.New("conflict")
)

// ValidationError names the offending field. errors.Is(err, ErrValidation) matches it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
