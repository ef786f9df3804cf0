package services_test

import (
	"context"
	"testing"

	"github.com/Coffee285/AVS-sub001/internal/services"
)

func TestContextValuesRoundTrip(t *testing.T) {
	ctx := services.WithRequestID(services.WithStage(services.WithJobID(context.Background(), "job-42"), "initialization"), "req-123")

	lookups := map[string]func(context.Context) (string, bool){
		"job-42":         services.JobIDFromContext,
		"initialization": services.StageFromContext,
		"req-123":        services.RequestIDFromContext,
	}
	for want, lookup := range lookups {
		if got, ok := lookup(ctx); !ok || got != want {
			t.Fatalf("lookup = %q, %v; want %q", got, ok, want)
		}
	}
}

func TestBlankValuesAreIgnored(t *testing.T) {
	base := context.Background()
	if ctx := services.WithJobID(base, ""); ctx != base {
		t.Fatal("blank job id should return the parent context")
	}
	if _, ok := services.StageFromContext(services.WithStage(base, "")); ok {
		t.Fatal("expected no stage value")
	}
}
