package domain

import "errors"

var (
	// ErrDocumentNotFound is returned when a queued document does not exist on disk
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEntityNotFound is returned when no entity newer than the watermark exists after an insert
	ErrEntityNotFound = errors.New("inserted entity not found")

	// ErrWatchdogTimeout is returned when a job exceeds its absolute time ceiling
	ErrWatchdogTimeout = errors.New("watchdog timeout")

	// ErrJobActive is returned when a job is started while another one is in flight
	ErrJobActive = errors.New("job already running")

	// ErrNotMeasurable is returned when an entity's extents stay degenerate for the whole retry budget
	ErrNotMeasurable = errors.New("geometry not measurable")
)

// StepError carries the pipeline stage a per-occurrence failure happened in
type StepError struct {
	Stage string
	Err   error
}

func (e *StepError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err with the stage it happened in
func NewStepError(stage string, err error) error {
	return &StepError{Stage: stage, Err: err}
}
