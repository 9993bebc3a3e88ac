package prescription

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for uploads that are not images
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for ledger operations on an unknown id
	ErrNotFound = errors.New("result not found")
	// ErrInvalidTransition is returned when a result is no longer pending
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobError is a terminal job failure
type JobError struct {
	Stage Stage
	// Retryable is set when a clearer image may succeed
	Retryable bool
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
