package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a rule or alert does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation is not allowed in the current state
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned when a request is malformed
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes a malformed request field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
