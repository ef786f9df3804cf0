package scheduler_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/queue"
	"github.com/Coffee285/AVS-sub001/internal/scheduler"
	"github.com/Coffee285/AVS-sub001/internal/sweeper"
	"github.com/Coffee285/AVS-sub001/internal/testsupport"
)

type fakeQueue struct {
	mu       sync.Mutex
	pending  []*queue.Job
	claimErr error
	finished map[string]string
}

func newFakeQueue(ids ...string) *fakeQueue {
	q := &fakeQueue{finished: make(map[string]string)}
	for _, id := range ids {
		q.pending = append(q.pending, &queue.Job{ID: id, Status: job.StatusQueued})
	}
	return q
}

func (q *fakeQueue) ClaimNext(context.Context, time.Time) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	next.Status = job.StatusRunning
	return next, nil
}

func (q *fakeQueue) Finish(_ context.Context, id string, status job.Status, _, msg string, _ time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished[id] = msg
	return true, nil
}

func (q *fakeQueue) setErr(err error) {
	q.mu.Lock()
	q.claimErr = err
	q.mu.Unlock()
}

func (q *fakeQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

type fakeRunner struct {
	mu        sync.Mutex
	active    map[string]struct{}
	started   []string
	startErr  error
	maxActive int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{active: make(map[string]struct{})}
}

func (r *fakeRunner) Start(_ context.Context, rec job.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.active[rec.ID] = struct{}{}
	r.started = append(r.started, rec.ID)
	if len(r.active) > r.maxActive {
		r.maxActive = len(r.active)
	}
	return nil
}

func (r *fakeRunner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *fakeRunner) finishOne() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.active {
		delete(r.active, id)
		return
	}
}

func (r *fakeRunner) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep(context.Context) (sweeper.Result, error) {
	s.calls.Add(1)
	return sweeper.Result{}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	finished []job.Record
}

func (n *recordingNotifier) JobFinished(rec job.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, rec)
}

func (n *recordingNotifier) records() []job.Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]job.Record(nil), n.finished...)
}

func newLoop(t *testing.T, q scheduler.Queue, r scheduler.Runner, settings scheduler.SettingsSource, mutate ...func(*scheduler.Options)) *scheduler.Loop {
	t.Helper()
	opts := scheduler.Options{
		Queue:        q,
		Runner:       r,
		Settings:     settings,
		ErrorBackoff: 20 * time.Millisecond,
		Logger:       logging.NewNop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	loop, err := scheduler.New(opts)
	require.NoError(t, err)
	return loop
}

func live(enabled bool, maxJobs int) *scheduler.LiveSettings {
	return scheduler.NewLiveSettings(scheduler.Settings{
		Enabled:           enabled,
		MaxConcurrentJobs: maxJobs,
		PollInterval:      scheduler.MinPollInterval,
	})
}

func TestAvailableSlots(t *testing.T) {
	assert.Equal(t, 2, scheduler.AvailableSlots(2, 0))
	assert.Equal(t, 0, scheduler.AvailableSlots(2, 2))
	assert.Equal(t, 0, scheduler.AvailableSlots(2, 5))
	assert.Equal(t, 0, scheduler.AvailableSlots(0, 0))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		maxJobs, active := rng.Intn(20)-5, rng.Intn(20)
		slots := scheduler.AvailableSlots(maxJobs, active)
		assert.GreaterOrEqual(t, slots, 0)
		assert.Equal(t, max(0, maxJobs-active), slots)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := scheduler.New(scheduler.Options{})
	assert.Error(t, err)
}

func TestTickDisabledAdmitsNothing(t *testing.T) {
	q := newFakeQueue("a", "b")
	r := newFakeRunner()
	admitted, err := newLoop(t, q, r, live(false, 4)).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, admitted)
	assert.Equal(t, 2, q.remaining())
}

func TestTickFillsFreeSlotsOnly(t *testing.T) {
	q := newFakeQueue("a", "b", "c", "d")
	r := newFakeRunner()
	loop := newLoop(t, q, r, live(true, 3))

	admitted, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, admitted)
	assert.Equal(t, []string{"a", "b", "c"}, r.Started())

	admitted, err = loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, admitted)

	r.finishOne()
	admitted, err = loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, admitted)

	r.finishOne()
	admitted, err = loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, admitted, "queue drained")
}

func TestTickSpacesAdmissions(t *testing.T) {
	q := newFakeQueue("a", "b", "c")
	r := newFakeRunner()
	loop := newLoop(t, q, r, live(true, 3), func(o *scheduler.Options) {
		o.AdmissionSpacing = 30 * time.Millisecond
	})

	start := time.Now()
	admitted, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, admitted)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestTickReportsClaimErrors(t *testing.T) {
	q := newFakeQueue("a")
	q.setErr(errors.New("database is locked"))
	_, err := newLoop(t, q, newFakeRunner(), live(true, 1)).Tick(context.Background())
	assert.Error(t, err)
}

func TestTickFailsJobsTheRunnerRejects(t *testing.T) {
	q := newFakeQueue("a")
	r := newFakeRunner()
	r.startErr = errors.New("engine closed")

	admitted, err := newLoop(t, q, r, live(true, 1)).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, admitted)
	assert.Contains(t, q.finished["a"], "engine closed")
}

func TestTickNotifiesProgressOfRejectedJobs(t *testing.T) {
	q := newFakeQueue("a")
	r := newFakeRunner()
	r.startErr = errors.New("engine closed")
	notifier := &recordingNotifier{}

	loop := newLoop(t, q, r, live(true, 1), func(o *scheduler.Options) { o.Notifier = notifier })
	admitted, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, admitted)

	finished := notifier.records()
	require.Len(t, finished, 1)
	assert.Equal(t, "a", finished[0].ID)
	assert.Equal(t, job.StatusFailed, finished[0].Status)
	assert.Contains(t, finished[0].ErrorMessage, "engine closed")
	assert.False(t, finished[0].CompletedAt.IsZero())
}

func TestRunSurvivesErrorsAndStopsPromptly(t *testing.T) {
	q := newFakeQueue("a", "b")
	q.setErr(errors.New("transient"))
	r := newFakeRunner()
	sw := &countingSweeper{}
	loop := newLoop(t, q, r, live(true, 2), func(o *scheduler.Options) {
		o.Sweeper = sw
		o.SweepInterval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	q.setErr(nil)
	require.Eventually(t, func() bool { return len(r.Started()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return sw.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestRunPicksUpLiveSettingChanges(t *testing.T) {
	q := newFakeQueue("a", "b", "c")
	r := newFakeRunner()
	settings := live(false, 1)
	loop := newLoop(t, q, r, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	time.Sleep(3 * scheduler.MinPollInterval)
	assert.Empty(t, r.Started())

	enabled := true
	maxJobs := 3
	_, err := settings.Apply(scheduler.Patch{Enabled: &enabled, MaxConcurrentJobs: &maxJobs})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(r.Started()) == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrencyNeverExceeded(t *testing.T) {
	ids := make([]string, 40)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + time.Duration(i).String()
	}
	q := newFakeQueue(ids...)
	r := newFakeRunner()
	loop := newLoop(t, q, r, live(true, 3))
	rng := rand.New(rand.NewSource(11))

	for q.remaining() > 0 {
		_, err := loop.Tick(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, r.ActiveCount(), 3)
		for n := rng.Intn(3); n > 0; n-- {
			r.finishOne()
		}
	}
	assert.LessOrEqual(t, r.maxActive, 3)
}

func TestLiveSettingsValidation(t *testing.T) {
	settings := live(true, 2)
	negative := -1
	_, err := settings.Apply(scheduler.Patch{MaxConcurrentJobs: &negative})
	assert.Error(t, err)
	tooFast := time.Millisecond
	_, err = settings.Apply(scheduler.Patch{PollInterval: &tooFast})
	assert.Error(t, err)
	assert.Equal(t, 2, settings.Settings().MaxConcurrentJobs)
}

func TestTickAgainstSQLiteQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	low := testsupport.MustEnqueue(t, store, "/in/low.mov", 0)
	high := testsupport.MustEnqueue(t, store, "/in/high.mov", 9)

	r := newFakeRunner()
	admitted, err := newLoop(t, store, r, live(true, 1)).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, admitted)
	assert.Equal(t, []string{high.ID}, r.Started())

	pending, err := store.GetByID(context.Background(), low.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, pending.Status)
}
