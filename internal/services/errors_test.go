package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "encoding", "mux", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encoding", "mux", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err)
	}
}

func TestFailureStatusMapping(t *testing.T) {
	cancelled := fmt.Errorf("run: %w", services.Wrap(services.ErrCancelled, "encoding", "encode", "stopped", nil))
	if status := services.FailureStatus(cancelled); status != job.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", status)
	}
	transientErr := services.Wrap(services.ErrTransient, "encoding", "copy", "copy failed", errors.New("io"))
	if status := services.FailureStatus(transientErr); status != job.StatusFailed {
		t.Fatalf("expected failed for transient error, got %s", status)
	}
	if status := services.FailureStatus(nil); status != job.StatusFailed {
		t.Fatalf("expected failed for nil error, got %s", status)
	}
}
