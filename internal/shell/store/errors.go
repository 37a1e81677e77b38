// Package store persists the event journal and the committed deployment
// configuration in SQLite.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when schema migration fails.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrNoConfig is returned when no committed configuration exists yet.
	ErrNoConfig = errors.New("no stored configuration")

	// ErrInvalidData is returned when payload serialization fails.
	ErrInvalidData = errors.New("invalid data format")
)

// StoreError wraps a failure with the operation that produced it.
type StoreError struct {
	Op      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError.
func NewStoreError(op, message string, err error) *StoreError {
	return &StoreError{Op: op, Message: message, Err: err}
}
