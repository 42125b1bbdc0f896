package reminder

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for comparison with errors.Is.
var (
	// ErrImmutableState signals an operation only permitted while PENDING.
	ErrImmutableState = errors.New("reminder is not in a modifiable state")

	// ErrDuplicateID signals a Create with an id already present.
	ErrDuplicateID = errors.New("reminder id already exists")

	// ErrInvalidTransition signals a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnauthorized signals an actor outside the admin allow-list.
	ErrUnauthorized = errors.New("actor not permitted")
)

// NotFoundError indicates the reminder does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reminder %s not found", e.ID)
}

// IsNotFound checks whether err is a reminder NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError reports malformed input on a specific field. Validation
// failures are reported to the caller and never logged above info.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation checks whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError indicates the current state does not permit the operation.
type ConflictError struct {
	ID      string
	Status  Status
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("reminder %s: %s", e.ID, e.Message)
	}
	return fmt.Sprintf("reminder %s in state %s does not permit the operation", e.ID, e.Status)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict checks whether err is a ConflictError or one of the conflict
// sentinels.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) ||
		errors.Is(err, ErrImmutableState) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrInvalidTransition)
}

// TransportError categorizes a delivery failure. The scheduler retries
// transient failures with backoff and terminates on permanent ones.
type TransportError struct {
	StatusCode  int
	Transient   bool
	RateLimited bool
	// RetryAfter is the transport's advertised wait on rate limits. Honored
	// when larger than the computed backoff delay.
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.RateLimited {
		kind = "rate-limited"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport failure (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport failure (%s): %v", kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport checks whether err is a classified TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsTransientTransport reports whether err is a retryable transport failure.
// Unclassified errors are treated as transient so a flaky network path never
// terminates a reminder.
func IsTransientTransport(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Transient || te.RateLimited
	}
	return true
}

// TransportRetryAfter extracts the advertised retry-after, if any.
func TransportRetryAfter(err error) time.Duration {
	var te *TransportError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
