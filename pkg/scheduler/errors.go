package scheduler

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRating indicates a rating outside 1-4.
	ErrInvalidRating = errors.New("invalid rating")

	// ErrInvalidState indicates a card state whose phase and fields
	// disagree (corrupt storage or a bug in a converter).
	ErrInvalidState = errors.New("invalid card state")

	// ErrStorageOperation indicates that a persistence operation failed.
	// The review was rolled back; the caller may retry it whole.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrConflict indicates that a concurrent review of the same card
	// won the optimistic version check. The review was rolled back.
	ErrConflict = errors.New("concurrent review conflict")

	// ErrOptimizationFailed indicates that an optimizer result was
	// rejected. Non-fatal: scheduling continues on last-good
	// parameters.
	ErrOptimizationFailed = errors.New("optimization unavailable or failed")
)

// SchedulerError wraps errors with operation context.
//
// Example:
//
//	err := &SchedulerError{Op: "Review", Err: ErrConflict}
//	// Error() returns: "recall: Review: concurrent review conflict"
type SchedulerError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *SchedulerError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *SchedulerError) Unwrap() error {
	return e.Err
}

// NewSchedulerError creates a new SchedulerError wrapping the given
// error. If err is nil, returns nil, so call sites can wrap
// unconditionally.
func NewSchedulerError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SchedulerError{Op: op, Err: err}
}
