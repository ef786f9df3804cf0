package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

// Error markers. Wrap tags an error with one so callers can classify it
// with errors.Is.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled")
)

// Wrap tags err with marker and prefixes it with "stage: operation: message".
// A nil marker means ErrTransient; a nil err yields a marker-only error.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	var parts []string
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	detail := "service failure"
	if len(parts) > 0 {
		detail = strings.Join(parts, ": ")
	}
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// FailureStatus maps an execution error to the terminal status recorded for
// the job: cancelled when it carries ErrCancelled, failed otherwise.
func FailureStatus(err error) job.Status {
	if errors.Is(err, ErrCancelled) {
		return job.StatusCancelled
	}
	return job.StatusFailed
}
