package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/progress"
	"github.com/Coffee285/AVS-sub001/internal/queue"
)

func TestFromEventMapsTerminalTypes(t *testing.T) {
	cases := map[job.Status]string{
		job.StatusQueued:    EventProgress,
		job.StatusRunning:   EventProgress,
		job.StatusCompleted: EventCompleted,
		job.StatusFailed:    EventFailed,
		job.StatusCancelled: EventCancelled,
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for status, want := range cases {
		evt := FromEvent(progress.Event{
			Sequence:  7,
			Type:      progress.EventProgress,
			Snapshot:  progress.Snapshot{JobID: "j1", Status: status, Percent: 40},
			Timestamp: at,
		})
		if evt.Type != want {
			t.Fatalf("%s: type = %q want %q", status, evt.Type, want)
		}
		if evt.Sequence != 7 || evt.JobID != "j1" || evt.Job == nil || evt.Job.Percent != 40 {
			t.Fatalf("%s: unexpected event %+v", status, evt)
		}
		if evt.Timestamp != "2026-03-01T12:00:00.000Z" {
			t.Fatalf("unexpected timestamp %q", evt.Timestamp)
		}
	}
}

func TestFromQueueJob(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &queue.Job{
		ID:              "j3",
		SourcePath:      "/in/trailer.mov",
		Status:          job.StatusRunning,
		ProgressPercent: 55,
		ProgressStage:   "Encoding",
		Attempt:         2,
		RetryOf:         "j1",
		CreatedAt:       started.Add(-time.Minute),
		StartedAt:       &started,
	}
	dto := FromQueueJob(item)
	if dto.Label != "trailer.mov" || dto.Percent != 55 || dto.Stage != "Encoding" {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if dto.StartedAt == "" || dto.CompletedAt != "" {
		t.Fatalf("unexpected timestamps %+v", dto)
	}
	if FromQueueJob(nil).JobID != "" {
		t.Fatal("nil job should convert to zero value")
	}
}

func TestJobStatusRoundTripsCanonicalNames(t *testing.T) {
	dto := FromSnapshot(progress.Snapshot{
		JobID:      "j4",
		Status:     job.StatusCompleted,
		Percent:    100,
		OutputPath: "/out/j4.mkv",
	})
	data, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded JobStatus
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != dto {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, dto)
	}
}

func TestParseTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 5_000_000, time.UTC)
	parsed, ok := ParseTime(FormatTime(at))
	if !ok || !parsed.Equal(at) {
		t.Fatalf("ParseTime = %v,%v", parsed, ok)
	}
	if _, ok := ParseTime(""); ok {
		t.Fatal("empty timestamp should not parse")
	}
	if FormatTime(time.Time{}) != "" {
		t.Fatal("zero time should format empty")
	}
}
