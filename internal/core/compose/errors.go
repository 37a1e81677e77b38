// Package compose validates deployment descriptors by parsing them with
// the compose-go loader. All functions are pure - input is YAML text,
// output is values or errors.
package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrEmptyInput         = errors.New("descriptor is empty")
	ErrInvalidYAML        = errors.New("invalid YAML syntax")
	ErrNoServices         = errors.New("descriptor must define at least one service")
	ErrServiceNoImage     = errors.New("service must have an image")
	ErrUnknownDependency  = errors.New("depends_on references an undeclared service")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrInvalidPort        = errors.New("invalid port configuration")
)

// ValidationError wraps a descriptor error with the field that caused it.
type ValidationError struct {
	Field   string // e.g. "services.web.depends_on"
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}
