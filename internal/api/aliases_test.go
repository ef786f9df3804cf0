package api

import (
	"encoding/json"
	"testing"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

func TestJobStatusAcceptsFieldAliases(t *testing.T) {
	payloads := []string{
		`{"jobId":"j1","status":"completed","percent":100,"outputPath":"/out/a.mkv"}`,
		`{"job_id":"j1","State":"DONE","progress_percent":"100","output":"/out/a.mkv"}`,
		`{"ID":"j1","STATUS":"Complete","Progress":99.6,"OUTPUT_PATH":"/out/a.mkv"}`,
		`{"id":"j1","jobStatus":"succeeded","percentComplete":"100%","outputFile":"/out/a.mkv"}`,
	}
	for _, payload := range payloads {
		var status JobStatus
		if err := json.Unmarshal([]byte(payload), &status); err != nil {
			t.Fatalf("decode %s: %v", payload, err)
		}
		if status.JobID != "j1" {
			t.Fatalf("%s: job id = %q", payload, status.JobID)
		}
		if status.StatusValue() != job.StatusCompleted {
			t.Fatalf("%s: status = %q", payload, status.Status)
		}
		if status.Percent != 100 {
			t.Fatalf("%s: percent = %d", payload, status.Percent)
		}
		if status.OutputPath != "/out/a.mkv" {
			t.Fatalf("%s: output = %q", payload, status.OutputPath)
		}
	}
}

func TestJobStatusCanonicalSpellingWins(t *testing.T) {
	var status JobStatus
	payload := `{"state":"running","status":"failed","progress":10,"percent":20,"error":"boom","errorMessage":"encoder crashed"}`
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "failed" || status.Percent != 20 || status.ErrorMessage != "encoder crashed" {
		t.Fatalf("unexpected decode: %+v", status)
	}
}

func TestJobStatusAliasCollisionIsDeterministic(t *testing.T) {
	payloads := []string{
		`{"State":"running","Status":"completed","percent":50}`,
		`{"Status":"completed","State":"running","percent":50}`,
		`{"job_status":"running","STATUS":"completed","percent":50}`,
	}
	for _, payload := range payloads {
		for i := 0; i < 50; i++ {
			var status JobStatus
			if err := json.Unmarshal([]byte(payload), &status); err != nil {
				t.Fatalf("decode %s: %v", payload, err)
			}
			if status.Status != "completed" {
				t.Fatalf("decode %s attempt %d: status %q", payload, i, status.Status)
			}
		}
	}
}

func TestJobStatusKeepsUnknownStatusLowercased(t *testing.T) {
	var status JobStatus
	if err := json.Unmarshal([]byte(`{"status":"Exploded","percent":250}`), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "exploded" || status.StatusValue() != "" {
		t.Fatalf("unexpected status %q", status.Status)
	}
	if status.Percent != 100 {
		t.Fatalf("expected clamped percent, got %d", status.Percent)
	}
	if status.IsTerminal() {
		t.Fatal("unknown status must not be terminal")
	}
}

func TestJobStatusRejectsGarbage(t *testing.T) {
	var status JobStatus
	if err := json.Unmarshal([]byte(`{"percent":"lots"}`), &status); err == nil {
		t.Fatal("expected error for non-numeric percent")
	}
	if err := json.Unmarshal([]byte(`[1,2,3]`), &status); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestStreamEventDecodesNestedAliases(t *testing.T) {
	var evt StreamEvent
	payload := `{"type":"failed","jobId":"j2","timestamp":"2026-01-02T03:04:05.000Z","job":{"job_id":"j2","state":"error","error_message":"disk full"}}`
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !evt.IsTerminal() || evt.Job == nil {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Job.StatusValue() != job.StatusFailed || evt.Job.ErrorMessage != "disk full" {
		t.Fatalf("unexpected job %+v", evt.Job)
	}
}
