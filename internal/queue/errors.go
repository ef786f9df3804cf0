package queue

import "errors"

var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidSpec is returned when a submission bundle is unusable.
	ErrInvalidSpec = errors.New("invalid job spec")
	// ErrNotRetryable is returned when retry is requested for a job that has not failed or been cancelled.
	ErrNotRetryable = errors.New("job is not in a retryable state")
)
