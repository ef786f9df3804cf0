package progress_test

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/progress"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingSink) Publish(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newStore(t *testing.T, opts ...progress.Option) *progress.Store {
	t.Helper()
	store := progress.New(logging.NewNop(), opts...)
	t.Cleanup(store.Close)
	return store
}

func nextEvent(t *testing.T, sub *progress.Subscription) progress.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := sub.Next(ctx)
	require.NoError(t, err)
	return evt
}

func drain(t *testing.T, sub *progress.Subscription) ([]progress.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var events []progress.Event
	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			return events, err
		}
		events = append(events, evt)
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newStore(t)
	snap := store.Create(job.Record{ID: "j1", Spec: job.Spec{Source: "/in/trailer.mov"}})

	assert.Equal(t, "j1", snap.JobID)
	assert.Equal(t, job.StatusQueued, snap.Status)
	assert.Equal(t, "trailer.mov", snap.Label)

	got, ok := store.Get("j1")
	require.True(t, ok)
	assert.Equal(t, snap, got)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestCreateIsIdempotent(t *testing.T) {
	store := newStore(t)
	first := store.Create(job.Record{ID: "j1", Stage: "Analyzing"})
	second := store.Create(job.Record{ID: "j1", Stage: "Rendering", Percent: 40})
	assert.Equal(t, first, second)
}

func TestCreateNeverStoresTerminal(t *testing.T) {
	store := newStore(t)
	snap := store.Create(job.Record{ID: "j1", Status: job.StatusCompleted})
	assert.Equal(t, job.StatusRunning, snap.Status)
	assert.Empty(t, snap.OutputPath)
}

func TestUpdateProgressIdempotent(t *testing.T) {
	store := newStore(t)
	sink := &recordingSink{}
	store.AddSink(sink)
	store.Create(job.Record{ID: "j1", Status: job.StatusRunning})
	baseline := sink.Len()

	changed, err := store.UpdateProgress("j1", 10, "Rendering", "")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.UpdateProgress("j1", 10, "Rendering", "frame 12")
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, baseline+1, sink.Len())
}

func TestUpdateProgressClampsAndStartsQueued(t *testing.T) {
	store := newStore(t)
	store.Create(job.Record{ID: "j1"})

	changed, err := store.UpdateProgress("j1", 150, "Rendering", "")
	require.NoError(t, err)
	require.True(t, changed)

	snap, _ := store.Get("j1")
	assert.Equal(t, 100, snap.Percent)
	assert.Equal(t, job.StatusRunning, snap.Status)
	assert.False(t, snap.StartedAt.IsZero())

	_, err = store.UpdateProgress("j1", -5, "Rendering", "")
	require.NoError(t, err)
	snap, _ = store.Get("j1")
	assert.Equal(t, 0, snap.Percent, "regressions are accepted")
}

func TestUpdateProgressUnknownJob(t *testing.T) {
	store := newStore(t)
	_, err := store.UpdateProgress("nope", 10, "Rendering", "")
	assert.ErrorIs(t, err, progress.ErrNotFound)
	_, err = store.UpdateStatus("nope", job.StatusFailed, "", "boom")
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func TestUpdateStatusCompletedWithoutOutputFails(t *testing.T) {
	store := newStore(t)
	store.Create(job.Record{ID: "j1", Status: job.StatusRunning})

	snap, err := store.UpdateStatus("j1", job.StatusCompleted, "", "")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.NotEmpty(t, snap.ErrorMessage)
	assert.False(t, snap.CompletedAt.IsZero())

	stored, _ := store.Get("j1")
	assert.Equal(t, job.StatusFailed, stored.Status)
}

func TestUpdateStatusTerminalIsFinal(t *testing.T) {
	store := newStore(t)
	store.Create(job.Record{ID: "j1", Status: job.StatusRunning})

	snap, err := store.UpdateStatus("j1", job.StatusCompleted, "/out/j1.mkv", "")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Percent)

	again, err := store.UpdateStatus("j1", job.StatusFailed, "", "late failure")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, again.Status)

	changed, err := store.UpdateProgress("j1", 5, "Rendering", "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	store := newStore(t)
	store.Create(job.Record{ID: "j1"})
	_, err := store.UpdateStatus("j1", job.Status("paused"), "", "")
	assert.Error(t, err)
}

func TestSubscribeYieldsSnapshotThenUpdates(t *testing.T) {
	store := newStore(t)
	store.Create(job.Record{ID: "j1", Status: job.StatusRunning, Percent: 20, Stage: "Rendering"})

	sub := store.Subscribe("j1")
	defer sub.Close()

	first := nextEvent(t, sub)
	assert.Equal(t, progress.EventSnapshot, first.Type)
	assert.Equal(t, 20, first.Snapshot.Percent)

	_, err := store.UpdateProgress("j1", 30, "Rendering", "")
	require.NoError(t, err)
	second := nextEvent(t, sub)
	assert.Equal(t, progress.EventProgress, second.Type)
	assert.Equal(t, 30, second.Snapshot.Percent)

	_, err = store.UpdateStatus("j1", job.StatusCompleted, "/out/j1.mkv", "")
	require.NoError(t, err)
	last := nextEvent(t, sub)
	assert.Equal(t, progress.EventTerminal, last.Type)
	assert.True(t, last.IsTerminal())

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, store.SubscriberCount("j1"))
}

func TestSubscribeBeforeCreateWaits(t *testing.T) {
	store := newStore(t)
	sub := store.Subscribe("late")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err := sub.Next(ctx)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	store.Create(job.Record{ID: "late"})
	evt := nextEvent(t, sub)
	assert.Equal(t, progress.EventCreated, evt.Type)
	assert.Equal(t, "late", evt.Snapshot.JobID)
}

func TestSubscribeToTerminalJobCompletesImmediately(t *testing.T) {
	store := newStore(t)
	store.Create(job.Record{ID: "j1", Status: job.StatusRunning})
	_, err := store.UpdateStatus("j1", job.StatusFailed, "", "encoder crashed")
	require.NoError(t, err)

	sub := store.Subscribe("j1")
	events, err := drain(t, sub)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, "encoder crashed", events[0].Snapshot.ErrorMessage)
}

func TestSlowSubscriberCoalescesButKeepsTerminal(t *testing.T) {
	store := newStore(t, progress.WithMailboxSize(4))
	store.Create(job.Record{ID: "j1", Status: job.StatusRunning})
	sub := store.Subscribe("j1")
	defer sub.Close()

	for i := 1; i <= 50; i++ {
		_, err := store.UpdateProgress("j1", i, "Rendering", "")
		require.NoError(t, err)
	}
	_, err := store.UpdateStatus("j1", job.StatusCompleted, "/out/j1.mkv", "")
	require.NoError(t, err)

	events, err := drain(t, sub)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 5)
	assert.Equal(t, 50, events[3].Snapshot.Percent)
	assert.True(t, events[4].IsTerminal())
	assert.Positive(t, sub.Dropped())
}

func TestTerminalIsAlwaysLastEvent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := job.AllStatuses()

	for trial := 0; trial < 50; trial++ {
		store := progress.New(logging.NewNop(), progress.WithMailboxSize(8))
		store.Create(job.Record{ID: "j", Status: job.StatusRunning})
		sub := store.Subscribe("j")

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			seed := rng.Int63()
			wg.Add(1)
			go func() {
				defer wg.Done()
				local := rand.New(rand.NewSource(seed))
				for i := 0; i < 40; i++ {
					if local.Intn(5) == 0 {
						status := statuses[local.Intn(len(statuses))]
						output := ""
						if local.Intn(2) == 0 {
							output = "/out/j.mkv"
						}
						_, _ = store.UpdateStatus("j", status, output, "")
						continue
					}
					_, _ = store.UpdateProgress("j", local.Intn(101), "Rendering", "")
				}
			}()
		}
		wg.Wait()
		_, _ = store.UpdateStatus("j", job.StatusCancelled, "", "")

		events, err := drain(t, sub)
		require.ErrorIs(t, err, io.EOF)
		require.NotEmpty(t, events)
		terminals := 0
		for _, evt := range events {
			if evt.IsTerminal() {
				terminals++
			}
			if evt.Snapshot.Status == job.StatusCompleted {
				assert.NotEmpty(t, evt.Snapshot.OutputPath)
			}
		}
		assert.Equal(t, 1, terminals)
		assert.True(t, events[len(events)-1].IsTerminal())
		store.Close()
	}
}

func TestCleanupRemovesExpiredTerminalSnapshots(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t, progress.WithClock(clock.Now))

	store.Create(job.Record{ID: "old", Status: job.StatusRunning})
	_, err := store.UpdateStatus("old", job.StatusCompleted, "/out/old.mkv", "")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	store.Create(job.Record{ID: "young", Status: job.StatusRunning})
	_, err = store.UpdateStatus("young", job.StatusCompleted, "/out/young.mkv", "")
	require.NoError(t, err)
	store.Create(job.Record{ID: "active", Status: job.StatusRunning})

	removed := store.Cleanup(clock.Now().Add(-time.Hour))
	assert.Equal(t, 1, removed)

	_, ok := store.Get("old")
	assert.False(t, ok)
	_, ok = store.Get("young")
	assert.True(t, ok)
	_, ok = store.Get("active")
	assert.True(t, ok)
	assert.Len(t, store.List(), 2)
}

func TestSinkPanicDoesNotBlockOthers(t *testing.T) {
	store := newStore(t)
	store.AddSink(progress.SinkFunc(func(progress.Event) { panic("boom") }))
	sink := &recordingSink{}
	store.AddSink(sink)

	sub := store.Subscribe("j1")
	defer sub.Close()
	store.Create(job.Record{ID: "j1"})

	assert.Equal(t, 1, sink.Len())
	evt := nextEvent(t, sub)
	assert.Equal(t, progress.EventCreated, evt.Type)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	store := progress.New(logging.NewNop())
	store.Create(job.Record{ID: "j1", Status: job.StatusRunning})
	sub := store.Subscribe("j1")
	_ = nextEvent(t, sub)

	store.Close()
	_, err := sub.Next(context.Background())
	assert.True(t, errors.Is(err, progress.ErrClosed))

	after := store.Subscribe("j1")
	_, err = after.Next(context.Background())
	assert.ErrorIs(t, err, progress.ErrClosed)
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	store := newStore(t)
	sub := store.Subscribe("pending")
	assert.Equal(t, 1, store.SubscriberCount("pending"))
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, store.SubscriberCount("pending"))
}
