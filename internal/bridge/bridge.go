package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/progress"
)

// Store is the progress store surface the bridge writes to.
type Store interface {
	Create(rec job.Record) progress.Snapshot
	UpdateProgress(id string, percent int, stage, message string) (bool, error)
	UpdateStatus(id string, status job.Status, outputPath, errorMessage string) (progress.Snapshot, error)
}

// Source is the engine surface used for acknowledgement and reconciliation.
type Source interface {
	Unsynced() []job.Record
	MarkSynced(id string)
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logging.NewComponentLogger(logger, "bridge")
	}
}

// WithRetry sets how many times a terminal forward is attempted and the delay
// between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(b *Bridge) {
		if attempts > 0 {
			b.attempts = attempts
		}
		if delay >= 0 {
			b.retryDelay = delay
		}
	}
}

// WithReconcileInterval sets how often Run re-forwards unacknowledged records.
func WithReconcileInterval(interval time.Duration) Option {
	return func(b *Bridge) {
		if interval > 0 {
			b.reconcileEvery = interval
		}
	}
}

// WithQueueSize sets the terminal forward buffer.
func WithQueueSize(size int) Option {
	return func(b *Bridge) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// Bridge synchronizes engine records into the progress store.
type Bridge struct {
	store          Store
	source         Source
	logger         *slog.Logger
	attempts       int
	retryDelay     time.Duration
	reconcileEvery time.Duration
	queueSize      int
	pending        chan job.Record
}

// New constructs a bridge. source may be nil until SetSource is called.
func New(store Store, source Source, opts ...Option) *Bridge {
	b := &Bridge{
		store:          store,
		source:         source,
		logger:         logging.NewComponentLogger(nil, "bridge"),
		attempts:       5,
		retryDelay:     200 * time.Millisecond,
		reconcileEvery: 30 * time.Second,
		queueSize:      256,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pending = make(chan job.Record, b.queueSize)
	return b
}

// SetSource wires the engine after construction.
func (b *Bridge) SetSource(source Source) {
	b.source = source
}

// JobStarted creates the snapshot for an admitted job.
func (b *Bridge) JobStarted(rec job.Record) {
	b.store.Create(rec)
}

// JobProgress mirrors a progress change, creating the snapshot if a start
// event was missed.
func (b *Bridge) JobProgress(rec job.Record) {
	_, err := b.store.UpdateProgress(rec.ID, rec.Percent, rec.Stage, rec.Message)
	if errors.Is(err, progress.ErrNotFound) {
		b.store.Create(rec)
		_, err = b.store.UpdateProgress(rec.ID, rec.Percent, rec.Stage, rec.Message)
	}
	if err != nil {
		b.logger.Debug("progress mirror failed",
			logging.JobID(rec.ID),
			logging.Error(err),
		)
	}
}

// JobFinished queues a terminal record for forwarding without blocking. When
// the queue is full the record is left for reconciliation.
func (b *Bridge) JobFinished(rec job.Record) {
	select {
	case b.pending <- rec:
	default:
		logging.WarnWithContext(b.logger, "terminal forward queue full", "bridge_queue_full",
			logging.JobID(rec.ID),
			logging.Hint("reconciliation will retry the forward"),
			logging.Impact("client sees the terminal state after the next reconcile"),
		)
	}
}

// Forward applies a terminal record to the store with bounded retry and
// acknowledges it to the source on success.
func (b *Bridge) Forward(ctx context.Context, rec job.Record) error {
	if !rec.IsTerminal() {
		return fmt.Errorf("forward %s: status %q is not terminal", rec.ID, rec.Status)
	}
	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		snap, err := b.apply(rec)
		if err == nil {
			if snap.Status != rec.Status {
				b.logger.Info("progress store converged on a different terminal status",
					logging.JobID(rec.ID),
					logging.String("engine_status", string(rec.Status)),
					logging.String("store_status", string(snap.Status)),
					logging.EventType("bridge_status_diverged"),
				)
			}
			if b.source != nil {
				b.source.MarkSynced(rec.ID)
			}
			return nil
		}
		lastErr = err
		if attempt == b.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	logging.ErrorWithContext(b.logger, "terminal forward failed", "bridge_forward_failed",
		logging.JobID(rec.ID),
		logging.String("status", string(rec.Status)),
		logging.Int("attempts", b.attempts),
		logging.Error(lastErr),
		logging.Hint("reconciliation will retry; check progress store health"),
	)
	return lastErr
}

func (b *Bridge) apply(rec job.Record) (snap progress.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("progress store panicked: %v", r)
		}
	}()
	snap, err = b.store.UpdateStatus(rec.ID, rec.Status, rec.OutputPath, rec.ErrorMessage)
	if errors.Is(err, progress.ErrNotFound) {
		b.store.Create(rec)
		snap, err = b.store.UpdateStatus(rec.ID, rec.Status, rec.OutputPath, rec.ErrorMessage)
	}
	return snap, err
}

// Reconcile re-forwards every terminal record the source has not seen
// acknowledged and returns how many converged.
func (b *Bridge) Reconcile(ctx context.Context) int {
	if b.source == nil {
		return 0
	}
	synced := 0
	for _, rec := range b.source.Unsynced() {
		if ctx.Err() != nil {
			break
		}
		if err := b.Forward(ctx, rec); err == nil {
			synced++
		}
	}
	if synced > 0 {
		b.logger.Info("reconciled terminal records",
			logging.Int("count", synced),
			logging.EventType("bridge_reconciled"),
		)
	}
	return synced
}

// Run forwards queued terminal records and reconciles periodically until ctx
// ends. Records still queued at shutdown are forwarded once more.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.reconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case rec := <-b.pending:
			_ = b.Forward(ctx, rec)
		case <-ticker.C:
			b.Reconcile(ctx)
		}
	}
}

func (b *Bridge) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-b.pending:
			_ = b.Forward(ctx, rec)
		default:
			b.Reconcile(ctx)
			return
		}
	}
}
