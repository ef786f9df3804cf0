package queue

import (
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

// Job is a persisted composition job row.
type Job struct {
	ID              string
	Label           string
	SourcePath      string
	OutputDir       string
	Preset          string
	Priority        int
	Status          job.Status
	ProgressStage   string
	ProgressPercent int
	ProgressMessage string
	OutputPath      string
	ErrorMessage    string
	Attempt         int
	RetryOf         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastProgressAt  *time.Time
	LastHeartbeat   *time.Time
}

// Spec returns the submission bundle the row was created from.
func (j *Job) Spec() job.Spec {
	return job.Spec{
		Label:     j.Label,
		Source:    j.SourcePath,
		OutputDir: j.OutputDir,
		Preset:    j.Preset,
		Priority:  j.Priority,
	}
}

// Record converts the row into the shared record shape.
func (j *Job) Record() job.Record {
	rec := job.Record{
		ID:           j.ID,
		Spec:         j.Spec(),
		Status:       j.Status,
		Percent:      j.ProgressPercent,
		Stage:        j.ProgressStage,
		Message:      j.ProgressMessage,
		OutputPath:   j.OutputPath,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.StartedAt != nil {
		rec.StartedAt = *j.StartedAt
	}
	if j.CompletedAt != nil {
		rec.CompletedAt = *j.CompletedAt
	}
	return rec
}

// LastActivity returns the last time the job advanced: the last progress
// change, else the start time, else the creation time.
func (j *Job) LastActivity() time.Time {
	switch {
	case j.LastProgressAt != nil:
		return *j.LastProgressAt
	case j.StartedAt != nil:
		return *j.StartedAt
	default:
		return j.CreatedAt
	}
}

// Stats summarizes persisted jobs by status.
type Stats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
