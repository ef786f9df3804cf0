package progress

import (
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

// Snapshot is the point-in-time projection of a job held by the Store.
type Snapshot struct {
	JobID        string
	Label        string
	Status       job.Status
	Percent      int
	Stage        string
	Message      string
	OutputPath   string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the snapshot has reached a final status.
func (s Snapshot) IsTerminal() bool {
	return s.Status.IsTerminal()
}

func snapshotFromRecord(rec job.Record, now time.Time) Snapshot {
	status := rec.Status
	switch {
	case status == "":
		status = job.StatusQueued
	case status.IsTerminal():
		// Terminal transitions only enter through UpdateStatus.
		status = job.StatusRunning
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	snap := Snapshot{
		JobID:     rec.ID,
		Label:     rec.DisplayLabel(),
		Status:    status,
		Percent:   job.ClampPercent(rec.Percent),
		Stage:     rec.Stage,
		Message:   rec.Message,
		CreatedAt: created,
		StartedAt: rec.StartedAt,
		UpdatedAt: now,
	}
	if status == job.StatusRunning && snap.StartedAt.IsZero() {
		snap.StartedAt = now
	}
	return snap
}

// EventType classifies a published event.
type EventType string

const (
	// EventSnapshot is the first event of a subscription to an existing job.
	EventSnapshot EventType = "snapshot"
	// EventCreated is published when a snapshot is inserted.
	EventCreated EventType = "created"
	// EventProgress is published for every applied non-terminal write.
	EventProgress EventType = "progress"
	// EventTerminal is published once, when the snapshot becomes terminal.
	EventTerminal EventType = "terminal"
)

// Event is an immutable notification carrying the snapshot after a write.
type Event struct {
	Sequence  uint64
	Type      EventType
	Snapshot  Snapshot
	Timestamp time.Time
}

// IsTerminal reports whether the event carries a terminal snapshot.
func (e Event) IsTerminal() bool {
	return e.Snapshot.IsTerminal()
}
