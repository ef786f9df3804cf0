package api

import (
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/progress"
	"github.com/Coffee285/AVS-sub001/internal/queue"
)

// FromSnapshot converts a progress snapshot to its API representation.
func FromSnapshot(snap progress.Snapshot) JobStatus {
	return JobStatus{
		JobID:        snap.JobID,
		Label:        snap.Label,
		Status:       string(snap.Status),
		Percent:      snap.Percent,
		Stage:        snap.Stage,
		Message:      snap.Message,
		OutputPath:   snap.OutputPath,
		ErrorMessage: snap.ErrorMessage,
		CreatedAt:    FormatTime(snap.CreatedAt),
		StartedAt:    FormatTime(snap.StartedAt),
		CompletedAt:  FormatTime(snap.CompletedAt),
		UpdatedAt:    FormatTime(snap.UpdatedAt),
	}
}

// FromQueueJob converts a persisted job row to its API representation.
func FromQueueJob(item *queue.Job) JobStatus {
	if item == nil {
		return JobStatus{}
	}
	rec := item.Record()
	return JobStatus{
		JobID:        item.ID,
		Label:        rec.DisplayLabel(),
		Status:       string(item.Status),
		Percent:      item.ProgressPercent,
		Stage:        item.ProgressStage,
		Message:      item.ProgressMessage,
		OutputPath:   item.OutputPath,
		ErrorMessage: item.ErrorMessage,
		Source:       item.SourcePath,
		Priority:     item.Priority,
		Attempt:      item.Attempt,
		RetryOf:      item.RetryOf,
		CreatedAt:    FormatTime(item.CreatedAt),
		StartedAt:    FormatTime(rec.StartedAt),
		CompletedAt:  FormatTime(rec.CompletedAt),
		UpdatedAt:    FormatTime(item.UpdatedAt),
	}
}

// FromQueueJobs converts persisted rows into API DTOs.
func FromQueueJobs(items []*queue.Job) []JobStatus {
	out := make([]JobStatus, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, FromQueueJob(item))
		}
	}
	return out
}

// EventTypeFor maps a status to the feed event type that reports it.
func EventTypeFor(status job.Status) string {
	switch status {
	case job.StatusCompleted:
		return EventCompleted
	case job.StatusFailed:
		return EventFailed
	case job.StatusCancelled:
		return EventCancelled
	default:
		return EventProgress
	}
}

// FromEvent converts a store event into a feed event.
func FromEvent(evt progress.Event) StreamEvent {
	status := FromSnapshot(evt.Snapshot)
	return StreamEvent{
		Type:      EventTypeFor(evt.Snapshot.Status),
		JobID:     evt.Snapshot.JobID,
		Sequence:  evt.Sequence,
		Timestamp: FormatTime(evt.Timestamp),
		Job:       &status,
	}
}

// Connected builds the acknowledgment that opens every feed.
func Connected(jobID string, at time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventConnected,
		JobID:     jobID,
		Timestamp: FormatTime(at),
	}
}
