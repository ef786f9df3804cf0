package job

import "strings"

// Status captures the lifecycle position of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var statusAliases = map[string]Status{
	"queued":      StatusQueued,
	"pending":     StatusQueued,
	"waiting":     StatusQueued,
	"running":     StatusRunning,
	"processing":  StatusRunning,
	"in_progress": StatusRunning,
	"inprogress":  StatusRunning,
	"in-progress": StatusRunning,
	"active":      StatusRunning,
	"completed":   StatusCompleted,
	"complete":    StatusCompleted,
	"done":        StatusCompleted,
	"succeeded":   StatusCompleted,
	"success":     StatusCompleted,
	"failed":      StatusFailed,
	"failure":     StatusFailed,
	"error":       StatusFailed,
	"errored":     StatusFailed,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"aborted":     StatusCancelled,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
}

// ParseStatus converts a raw string (any case, legacy aliases included) into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "", false
	}
	status, ok := statusAliases[normalized]
	return status, ok
}

// IsTerminal reports whether no further transitions are valid.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	for _, candidate := range AllStatuses() {
		if s == candidate {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
