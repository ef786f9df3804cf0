package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustEnqueue submits a job with the given source and priority.
func MustEnqueue(t testing.TB, store *queue.Store, source string, priority int) *queue.Job {
	t.Helper()

	item, err := store.Enqueue(context.Background(), job.Spec{Source: source, Priority: priority})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}

// MustStartRunning enqueues and claims a job so it is persisted as running
// with its last activity at startedAt.
func MustStartRunning(t testing.TB, store *queue.Store, source string, startedAt time.Time) *queue.Job {
	t.Helper()

	MustEnqueue(t, store, source, 0)
	item, err := store.ClaimNext(context.Background(), startedAt)
	if err != nil {
		t.Fatalf("store.ClaimNext: %v", err)
	}
	if item == nil {
		t.Fatal("store.ClaimNext returned no job")
	}
	return item
}
