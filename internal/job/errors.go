package job

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that
	// is not in Pending status (already claimed, or already terminal)
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in Pending status")

	// ErrInvalidMessage is returned when a queue message body is malformed
	ErrInvalidMessage = errors.New("invalid queue message")

	// ErrIllegalTransition is returned when a status update violates the
	// transition table
	ErrIllegalTransition = errors.New("illegal job status transition")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
