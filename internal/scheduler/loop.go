package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/queue"
	"github.com/Coffee285/AVS-sub001/internal/sweeper"
)

// Queue supplies pending jobs. *queue.Store satisfies it.
type Queue interface {
	ClaimNext(ctx context.Context, now time.Time) (*queue.Job, error)
	Finish(ctx context.Context, id string, status job.Status, outputPath, errorMessage string, at time.Time) (bool, error)
}

// Runner executes admitted jobs. *engine.Engine satisfies it.
type Runner interface {
	Start(ctx context.Context, rec job.Record) error
	ActiveCount() int
}

// Sweeper audits persisted running jobs. *sweeper.Sweeper satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
}

// Notifier receives records the loop fails at admission so the progress
// store converges. *bridge.Bridge satisfies it.
type Notifier interface {
	JobFinished(rec job.Record)
}

// AvailableSlots returns max(0, maxConcurrent-active).
func AvailableSlots(maxConcurrent, active int) int {
	if slots := maxConcurrent - active; slots > 0 {
		return slots
	}
	return 0
}

// Options configures a Loop.
type Options struct {
	Queue    Queue
	Runner   Runner
	Settings SettingsSource
	// Sweeper and Notifier are optional.
	Sweeper          Sweeper
	Notifier         Notifier
	AdmissionSpacing time.Duration
	ErrorBackoff     time.Duration
	SweepInterval    time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

// Loop is the admission loop.
type Loop struct {
	queue    Queue
	runner   Runner
	settings SettingsSource
	sweeper  Sweeper
	notifier Notifier
	spacing  time.Duration
	backoff  time.Duration
	sweepInt time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New validates opts and constructs a Loop.
func New(opts Options) (*Loop, error) {
	if opts.Queue == nil {
		return nil, errors.New("scheduler: queue is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("scheduler: settings source is required")
	}
	l := &Loop{
		queue:    opts.Queue,
		runner:   opts.Runner,
		settings: opts.Settings,
		sweeper:  opts.Sweeper,
		notifier: opts.Notifier,
		spacing:  opts.AdmissionSpacing,
		backoff:  opts.ErrorBackoff,
		sweepInt: opts.SweepInterval,
		logger:   logging.NewComponentLogger(opts.Logger, "scheduler"),
		now:      opts.Now,
	}
	if l.backoff <= 0 {
		l.backoff = 15 * time.Second
	}
	if l.sweepInt <= 0 {
		l.sweepInt = time.Minute
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l, nil
}

// Tick runs one admission pass and returns how many jobs were started.
func (l *Loop) Tick(ctx context.Context) (admitted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler tick panicked: %v", r)
		}
	}()

	settings := l.settings.Settings()
	if !settings.Enabled {
		return 0, nil
	}
	slots := AvailableSlots(settings.MaxConcurrentJobs, l.runner.ActiveCount())
	for i := 0; i < slots; i++ {
		if admitted > 0 && l.spacing > 0 {
			if err := sleep(ctx, l.spacing); err != nil {
				return admitted, nil
			}
			// Re-check capacity; settings may have shrunk during the pause.
			current := l.settings.Settings()
			if !current.Enabled || AvailableSlots(current.MaxConcurrentJobs, l.runner.ActiveCount()) == 0 {
				break
			}
		}
		claimed, err := l.queue.ClaimNext(ctx, l.now())
		if err != nil {
			return admitted, fmt.Errorf("claim next job: %w", err)
		}
		if claimed == nil {
			break
		}
		if l.admit(ctx, claimed) {
			admitted++
		}
	}
	return admitted, nil
}

func (l *Loop) admit(ctx context.Context, claimed *queue.Job) bool {
	rec := claimed.Record()
	if err := l.runner.Start(ctx, rec); err != nil {
		logging.ErrorWithContext(l.logger, "job admission failed", "job_admission_failed",
			logging.JobID(rec.ID),
			logging.Error(err),
			logging.Hint("inspect engine state"),
		)
		message := "admission failed: " + err.Error()
		now := l.now()
		applied, ferr := l.queue.Finish(ctx, rec.ID, job.StatusFailed, "", message, now)
		if ferr != nil {
			l.logger.Warn("mark admission failure failed",
				logging.JobID(rec.ID),
				logging.Error(ferr),
			)
			return false
		}
		if applied && l.notifier != nil {
			rec.Status = job.StatusFailed
			rec.ErrorMessage = message
			rec.OutputPath = ""
			rec.CompletedAt = now
			l.notifier.JobFinished(rec)
		}
		return false
	}
	return true
}

// Run drives the admission and sweep loops until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("scheduler started",
		logging.Duration("sweep_interval", l.sweepInt),
		logging.Duration("admission_spacing", l.spacing),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.admissionLoop(gctx) })
	if l.sweeper != nil {
		g.Go(func() error { return l.sweepLoop(gctx) })
	}
	err := g.Wait()
	l.logger.Info("scheduler stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Loop) admissionLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		admitted, err := l.Tick(ctx)
		wait := l.pollInterval()
		switch {
		case err != nil && ctx.Err() == nil:
			logging.ErrorWithContext(l.logger, "scheduler tick failed", "scheduler_tick_failed",
				logging.Error(err),
				logging.Duration("retry_in", l.backoff),
				logging.Hint("check queue database access"),
			)
			wait = l.backoff
		case admitted > 0:
			l.logger.Debug("scheduler admitted jobs", logging.Int("admitted", admitted))
		}
		if sleep(ctx, wait) != nil {
			return nil
		}
	}
}

func (l *Loop) pollInterval() time.Duration {
	interval := l.settings.Settings().PollInterval
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return interval
}

func (l *Loop) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.sweepInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.runSweep(ctx)
		}
	}
}

func (l *Loop) runSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("stuck job sweep panicked", logging.Any("panic", r))
		}
	}()
	result, err := l.sweeper.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(l.logger, "stuck job sweep failed", "sweep_failed",
			logging.Error(err),
			logging.Hint("check queue database access"),
			logging.Impact("stalled jobs stay running until the next sweep"),
		)
		return
	}
	if result.ForceFailed > 0 {
		l.logger.Info("stuck job sweep failed stalled jobs",
			logging.Int("force_failed", result.ForceFailed),
			logging.EventType("sweep_force_failed"),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
