package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrAlreadyStarted = errors.New("already started")

	// Operation errors
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Storage errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCommitConflict   = errors.New("commit rejected by version check")

	// HTTP/Network errors
	ErrConnectionFailed = errors.New("connection failed")
)

// OpError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type OpError struct {
	Op      string // Operation that failed (e.g., "repository.Create")
	Kind    string // Error kind (e.g., "store", "transport", "config")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *OpError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *OpError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient network or availability issues.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrCommitConflict)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsCommitConflict checks if an error is a version-check rejection.
// Callers should re-read and retry a bounded number of times.
func IsCommitConflict(err error) bool {
	return errors.Is(err, ErrCommitConflict)
}
