package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/encoder"
	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/services"
)

var (
	// ErrUnknownJob is returned for ids the engine is not tracking.
	ErrUnknownJob = errors.New("engine: unknown job")
	// ErrDuplicateJob is returned when Start is called for a job that is still running.
	ErrDuplicateJob = errors.New("engine: job already running")

	errCancelRequested = fmt.Errorf("cancellation requested: %w", services.ErrCancelled)
	errJobTimeout      = fmt.Errorf("job deadline exceeded: %w", services.ErrTimeout)
)

// Persister records execution state in durable storage. *queue.Store
// satisfies it.
type Persister interface {
	UpdateProgress(ctx context.Context, id string, percent int, stage, message string, at time.Time) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
	Finish(ctx context.Context, id string, status job.Status, outputPath, errorMessage string, at time.Time) (bool, error)
}

// Listener observes job transitions. JobFinished must not block.
type Listener interface {
	JobStarted(job.Record)
	JobProgress(job.Record)
	JobFinished(job.Record)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.NewComponentLogger(logger, "engine")
	}
}

// WithPersister wires durable progress, heartbeat and terminal writes.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persist = p }
}

// WithListener wires the transition listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Limits bounds a single execution.
type Limits struct {
	InitTimeout       time.Duration
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	MinOutputBytes    int64
}

// LimitsFromConfig converts the [jobs] section.
func LimitsFromConfig(cfg *config.Config) Limits {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	return Limits{
		InitTimeout:       time.Duration(cfg.Jobs.InitTimeout) * time.Second,
		JobTimeout:        time.Duration(cfg.Jobs.JobTimeout) * time.Second,
		HeartbeatInterval: time.Duration(cfg.Jobs.HeartbeatInterval) * time.Second,
		MinOutputBytes:    cfg.Jobs.MinOutputBytes,
	}
}

type execution struct {
	rec       job.Record
	cancel    context.CancelCauseFunc
	cancelled bool
	synced    bool
	done      chan struct{}
}

// Engine runs jobs and owns their authoritative records.
type Engine struct {
	encoder  encoder.Encoder
	limits   Limits
	persist  Persister
	listener Listener
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	jobs   map[string]*execution
	active int
	wg     sync.WaitGroup
}

// New constructs an engine that runs jobs with enc.
func New(enc encoder.Encoder, limits Limits, opts ...Option) *Engine {
	e := &Engine{
		encoder: enc,
		limits:  limits,
		logger:  logging.NewComponentLogger(nil, "engine"),
		now:     func() time.Time { return time.Now().UTC() },
		jobs:    make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start registers rec as running and executes it on its own goroutine. The
// job counts toward ActiveCount before Start returns. Cancelling ctx stops the
// job and records it as failed.
func (e *Engine) Start(ctx context.Context, rec job.Record) error {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return errors.New("engine: job id required")
	}
	if e.encoder == nil {
		return errors.New("engine: encoder not configured")
	}

	now := e.now()
	rec.ID = id
	rec.Status = job.StatusRunning
	rec.OutputPath = ""
	rec.ErrorMessage = ""
	rec.CompletedAt = time.Time{}
	rec.Percent = job.ClampPercent(rec.Percent)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now

	jobCtx, cancel := context.WithCancelCause(services.WithJobID(ctx, id))

	e.mu.Lock()
	if existing, ok := e.jobs[id]; ok && !existing.rec.IsTerminal() {
		e.mu.Unlock()
		cancel(nil)
		return fmt.Errorf("start %s: %w", id, ErrDuplicateJob)
	}
	exec := &execution{rec: rec, cancel: cancel, done: make(chan struct{})}
	e.jobs[id] = exec
	e.active++
	listener := e.listener
	e.wg.Add(1)
	e.mu.Unlock()

	logging.WithContext(jobCtx, e.logger).Info("job admitted",
		logging.EventType("job_admitted"),
		logging.String("label", rec.DisplayLabel()),
		logging.String("source", rec.Spec.Source),
	)
	if listener != nil {
		listener.JobStarted(rec)
	}

	go e.run(jobCtx, exec)
	return nil
}

// Cancel requests cooperative cancellation. Cancelling a terminal job is a
// no-op that returns its record.
func (e *Engine) Cancel(id string) (job.Record, error) {
	e.mu.Lock()
	exec, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return job.Record{}, fmt.Errorf("cancel %s: %w", id, ErrUnknownJob)
	}
	rec := exec.rec
	if rec.IsTerminal() || exec.cancelled {
		e.mu.Unlock()
		return rec, nil
	}
	exec.cancelled = true
	cancel := exec.cancel
	e.mu.Unlock()

	e.logger.Info("job cancellation requested",
		logging.JobID(id),
		logging.EventType("job_cancel_requested"),
	)
	cancel(errCancelRequested)
	return rec, nil
}

// Get returns the current record for id.
func (e *Engine) Get(id string) (job.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.jobs[id]
	if !ok {
		return job.Record{}, false
	}
	return exec.rec, true
}

// Done returns a channel closed when the job reaches a terminal status.
func (e *Engine) Done(id string) (<-chan struct{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.jobs[id]
	if !ok {
		return nil, false
	}
	return exec.done, true
}

// ActiveCount reports how many jobs are running.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Unsynced returns terminal records the listener has not acknowledged.
func (e *Engine) Unsynced() []job.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []job.Record
	for _, exec := range e.jobs {
		if exec.rec.IsTerminal() && !exec.synced {
			out = append(out, exec.rec)
		}
	}
	return out
}

// MarkSynced acknowledges that a terminal record reached the progress store.
// The engine stops tracking acknowledged jobs.
func (e *Engine) MarkSynced(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.jobs[id]
	if !ok || !exec.rec.IsTerminal() {
		return
	}
	exec.synced = true
	delete(e.jobs, id)
}

// Wait blocks until every started job has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
