package domain

import "fmt"

// ValidationError signals that an input profile violates an arithmetic
// invariant. It is raised before any rule runs; partial scoring on
// invalid input is forbidden.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a profile field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
