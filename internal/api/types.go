package api

import (
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Progress feed event types.
const (
	EventConnected = "connected"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// JobStatus describes a job in a transport-friendly format.
type JobStatus struct {
	JobID        string `json:"jobId"`
	Label        string `json:"label,omitempty"`
	Status       string `json:"status"`
	Percent      int    `json:"percent"`
	Stage        string `json:"stage,omitempty"`
	Message      string `json:"message,omitempty"`
	OutputPath   string `json:"outputPath,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Source       string `json:"source,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`
	RetryOf      string `json:"retryOf,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	CompletedAt  string `json:"completedAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// StatusValue returns the normalized status, or "" when unrecognized.
func (s JobStatus) StatusValue() job.Status {
	status, _ := ParseStatus(s.Status)
	return status
}

// IsTerminal reports whether the payload carries a final status.
func (s JobStatus) IsTerminal() bool {
	return s.StatusValue().IsTerminal()
}

// StreamEvent is one entry of the per-job progress feed.
type StreamEvent struct {
	Type      string     `json:"type"`
	JobID     string     `json:"jobId"`
	Sequence  uint64     `json:"sequence,omitempty"`
	Timestamp string     `json:"timestamp"`
	Job       *JobStatus `json:"job,omitempty"`
}

// IsTerminal reports whether the event closes the feed.
func (e StreamEvent) IsTerminal() bool {
	switch e.Type {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	default:
		return false
	}
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobStatus `json:"jobs"`
}

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	Source    string `json:"source"`
	OutputDir string `json:"outputDir,omitempty"`
	Label     string `json:"label,omitempty"`
	Preset    string `json:"preset,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// Spec converts the request into a submission bundle.
func (r SubmitRequest) Spec() job.Spec {
	return job.Spec{
		Label:     r.Label,
		Source:    r.Source,
		OutputDir: r.OutputDir,
		Preset:    r.Preset,
		Priority:  r.Priority,
	}
}

// OutputInfo reports whether a job's artifact exists.
type OutputInfo struct {
	JobID  string `json:"jobId"`
	Path   string `json:"path,omitempty"`
	Exists bool   `json:"exists"`
	Size   int64  `json:"size"`
}

// CancelResponse reports the outcome of a cancel request. Applied is false
// when the job was already terminal.
type CancelResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Applied bool   `json:"applied"`
}

// SchedulerSettings mirrors the live admission settings.
type SchedulerSettings struct {
	Enabled            bool  `json:"enabled"`
	MaxConcurrentJobs  int   `json:"maxConcurrentJobs"`
	PollIntervalMillis int64 `json:"pollIntervalMs"`
}

// SchedulerPatch is the body of PATCH /api/scheduler. Nil fields are left unchanged.
type SchedulerPatch struct {
	Enabled            *bool  `json:"enabled,omitempty"`
	MaxConcurrentJobs  *int   `json:"maxConcurrentJobs,omitempty"`
	PollIntervalMillis *int64 `json:"pollIntervalMs,omitempty"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	PID         int               `json:"pid"`
	StartedAt   string            `json:"startedAt,omitempty"`
	QueueDBPath string            `json:"queueDbPath"`
	ActiveJobs  int               `json:"activeJobs"`
	Snapshots   int               `json:"snapshots"`
	Scheduler   SchedulerSettings `json:"scheduler"`
	Queue       queue.Stats       `json:"queue"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FormatTime renders a timestamp for API payloads; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses a payload timestamp. Any RFC3339 variant is accepted.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{dateTimeFormat, time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
