package domain

import "errors"

var (
	// ErrBatchNotFound is returned when a batch cannot be found in the database
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchAlreadyClaimed is returned when attempting to claim a batch that's already claimed
	ErrBatchAlreadyClaimed = errors.New("batch already claimed or not in PENDING status")

	// ErrInvalidOptions is returned when the stored save options JSON is malformed or invalid
	ErrInvalidOptions = errors.New("invalid batch options")

	// ErrMaxRetriesExceeded is returned when a batch has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError marks a failure as transient: the batch message goes back
// on the queue instead of being settled
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err or anything it wraps is a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
