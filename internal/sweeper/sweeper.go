package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/queue"
)

// Store is the persisted job storage the sweeper audits. *queue.Store
// satisfies it.
type Store interface {
	ListRunning(ctx context.Context) ([]*queue.Job, error)
	ForceFail(ctx context.Context, id, message string, lastActivity, at time.Time) (bool, error)
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier receives force-failed records so the progress store converges.
type Notifier interface {
	JobFinished(rec job.Record)
}

// Cleaner purges expired progress snapshots. *progress.Store satisfies it.
type Cleaner interface {
	Cleanup(olderThan time.Time) int
}

// Options configures a Sweeper.
type Options struct {
	Store      Store
	Thresholds Thresholds
	// Notifier, Cleaner and the retention windows are optional.
	Notifier           Notifier
	Cleaner            Cleaner
	SnapshotRetention  time.Duration
	PersistedRetention time.Duration
	Logger             *slog.Logger
	Now                func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	Examined         int
	ForceFailed      int
	FailedIDs        []string
	Errors           int
	Purged           int64
	SnapshotsRemoved int
}

// Sweeper runs reconciliation passes.
type Sweeper struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Sweeper.
func New(opts Options) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("sweeper: store is required")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "sweeper"),
		now:    now,
	}, nil
}

// StuckMessage formats the failure recorded for a stalled job.
func StuckMessage(stage string, stuck time.Duration, percent int) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "unknown"
	}
	return fmt.Sprintf("stuck in stage %q for %d minutes at %d%% progress", stage, int(stuck/time.Minute), percent)
}

// Sweep force-fails overdue running jobs and applies retention. Per-job
// errors are logged and counted; only a failure to list jobs is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var result Result
	now := s.now()

	running, err := s.opts.Store.ListRunning(ctx)
	if err != nil {
		return result, fmt.Errorf("list running jobs: %w", err)
	}
	result.Examined = len(running)

	for _, item := range running {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		last := item.LastActivity()
		stuck := now.Sub(last)
		threshold := s.opts.Thresholds.Threshold(item.ProgressStage, item.ProgressPercent)
		if stuck < threshold {
			continue
		}
		message := StuckMessage(item.ProgressStage, stuck, item.ProgressPercent)
		applied, err := s.opts.Store.ForceFail(ctx, item.ID, message, last, now)
		if err != nil {
			result.Errors++
			logging.WarnWithContext(s.logger, "force fail stuck job failed", "sweep_force_fail_error",
				logging.JobID(item.ID),
				logging.Error(err),
				logging.Hint("check queue database access"),
				logging.Impact("job retried on next sweep"),
			)
			continue
		}
		if !applied {
			continue
		}
		result.ForceFailed++
		result.FailedIDs = append(result.FailedIDs, item.ID)
		logging.WarnWithContext(s.logger, "stuck job force-failed", "job_stuck",
			logging.JobID(item.ID),
			logging.Stage(item.ProgressStage),
			logging.Percent(item.ProgressPercent),
			logging.Duration("stuck_for", stuck),
			logging.Duration("threshold", threshold),
			logging.Hint("inspect the encoder process for this job"),
			logging.Impact("job reported as failed"),
			logging.Alert("job_stuck"),
		)
		if s.opts.Notifier != nil {
			rec := item.Record()
			rec.Status = job.StatusFailed
			rec.ErrorMessage = message
			rec.OutputPath = ""
			rec.CompletedAt = now
			s.opts.Notifier.JobFinished(rec)
		}
	}

	if s.opts.PersistedRetention > 0 {
		purged, err := s.opts.Store.PurgeTerminalBefore(ctx, now.Add(-s.opts.PersistedRetention))
		if err != nil {
			result.Errors++
			s.logger.Warn("purge terminal jobs failed", logging.Error(err))
		} else {
			result.Purged = purged
		}
	}
	if s.opts.Cleaner != nil && s.opts.SnapshotRetention > 0 {
		result.SnapshotsRemoved = s.opts.Cleaner.Cleanup(now.Add(-s.opts.SnapshotRetention))
	}

	if result.ForceFailed > 0 || result.Purged > 0 || result.SnapshotsRemoved > 0 {
		s.logger.Info("sweep complete",
			logging.Int("examined", result.Examined),
			logging.Int("force_failed", result.ForceFailed),
			logging.Int64("purged", result.Purged),
			logging.Int("snapshots_removed", result.SnapshotsRemoved),
		)
	}
	return result, nil
}
