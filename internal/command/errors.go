package command

import (
	"fmt"
	"strings"

	"marketbot/internal/domain"
)

// FieldProblem is one field-level validation failure.
type FieldProblem struct {
	Field   string
	Message string
}

// ValidationError collects every field problem found while checking a command.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Field == "" {
			parts = append(parts, p.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", p.Field, p.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem for field.
func (e *ValidationError) Add(field, message string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: message})
}

// Err returns e when at least one problem was recorded, otherwise nil.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// AuthorizationError is shown to the user verbatim.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// Forbidden returns an AuthorizationError with the given user-facing message.
func Forbidden(message string) error {
	return &AuthorizationError{Message: message}
}

// ConflictError reports that the listing was not in a state the command applies to,
// usually because a concurrent action or sweep already moved it on.
type ConflictError struct {
	Ref     domain.ListingReference
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("listing %s: %s", e.Ref, e.Message)
}
