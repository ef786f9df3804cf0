package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/Coffee285/AVS-sub001/internal/bridge"
	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/encoder"
	"github.com/Coffee285/AVS-sub001/internal/engine"
	"github.com/Coffee285/AVS-sub001/internal/httpapi"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/preflight"
	"github.com/Coffee285/AVS-sub001/internal/progress"
	"github.com/Coffee285/AVS-sub001/internal/queue"
	"github.com/Coffee285/AVS-sub001/internal/relay"
	"github.com/Coffee285/AVS-sub001/internal/scheduler"
	"github.com/Coffee285/AVS-sub001/internal/sweeper"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another reelkit daemon instance is already running")

// OrphanMessage is recorded on jobs left running by a previous process.
const OrphanMessage = "daemon restarted while job was running"

// Option customizes a Daemon.
type Option func(*Daemon)

// WithEncoder overrides the encoder selected by configuration.
func WithEncoder(enc encoder.Encoder) Option {
	return func(d *Daemon) { d.encoder = enc }
}

// Daemon owns the component graph for one process.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	encoder encoder.Encoder

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ready   chan struct{}

	mu   sync.Mutex
	addr string
}

// New constructs a daemon. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lock = flock.New(d.lockPath)
	return d, nil
}

// Ready is closed once the API is listening.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the bound API address, or "" before Ready.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Run starts every component and blocks until ctx is cancelled or a component
// fails. Running jobs are failed and persisted before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	d.logPreflight(ctx)
	logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: d.cfg.Paths.LogDir, Pattern: "reelkit-*.log"},
	)

	store, err := queue.Open(d.cfg)
	if err != nil {
		logging.ErrorWithContext(d.logger, "open job store", "store_open_failed",
			logging.Error(err),
			logging.Hint("check paths.data_dir permissions"),
		)
		return err
	}
	defer store.Close()

	if n, err := store.FailOrphaned(ctx, OrphanMessage, time.Now().UTC()); err != nil {
		return fmt.Errorf("recover orphaned jobs: %w", err)
	} else if n > 0 {
		logging.WarnWithContext(d.logger, "failed jobs orphaned by previous run", "orphans_failed",
			logging.Int64("count", n),
			logging.Impact("interrupted jobs must be retried"),
			logging.Hint("use reelkit retry <id>"),
		)
	}

	snapshots := progress.New(d.logger)
	defer snapshots.Close()

	g, gctx := errgroup.WithContext(ctx)

	if d.cfg.Relay.Enabled {
		closer, err := d.startRelay(gctx, g, snapshots)
		if err != nil {
			return err
		}
		defer closer.Close()
	}

	enc := d.encoder
	if enc == nil {
		if enc, err = encoder.New(d.cfg); err != nil {
			return fmt.Errorf("select encoder: %w", err)
		}
	}

	br := bridge.New(snapshots, nil, bridge.WithLogger(d.logger))
	eng := engine.New(enc, engine.LimitsFromConfig(d.cfg),
		engine.WithLogger(d.logger),
		engine.WithPersister(store),
		engine.WithListener(br),
	)
	br.SetSource(eng)

	sw, err := sweeper.New(sweeper.Options{
		Store:              store,
		Thresholds:         sweeper.ThresholdsFromConfig(d.cfg),
		Notifier:           br,
		Cleaner:            snapshots,
		SnapshotRetention:  d.cfg.Progress.Retention(),
		PersistedRetention: d.cfg.Progress.PersistedRetentionWindow(),
		Logger:             d.logger,
	})
	if err != nil {
		return err
	}

	settings := scheduler.NewLiveSettings(scheduler.SettingsFromConfig(d.cfg))
	loop, err := scheduler.New(scheduler.Options{
		Queue:            store,
		Runner:           eng,
		Settings:         settings,
		Sweeper:          sw,
		Notifier:         br,
		AdmissionSpacing: d.cfg.Scheduler.AdmissionSpacing(),
		ErrorBackoff:     d.cfg.Scheduler.ErrorBackoff(),
		SweepInterval:    d.cfg.Scheduler.SweepEvery(),
		Logger:           d.logger,
	})
	if err != nil {
		return err
	}

	server, err := httpapi.New(httpapi.Options{
		Progress:         snapshots,
		Jobs:             store,
		Engine:           eng,
		Settings:         settings,
		Token:            d.cfg.Paths.APIToken,
		DefaultOutputDir: d.cfg.Paths.OutputDir,
		DatabasePath:     store.Path(),
		Logger:           d.logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(gctx, d.cfg.Paths.APIBind); err != nil {
		return err
	}
	defer server.Stop()

	d.mu.Lock()
	d.addr = server.Addr()
	d.mu.Unlock()
	close(d.ready)

	g.Go(func() error { return br.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })

	d.logger.Info("reelkit daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", server.Addr()),
		logging.String("database", store.Path()),
	)

	err = g.Wait()
	eng.Wait()
	d.logger.Info("reelkit daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) startRelay(ctx context.Context, g *errgroup.Group, snapshots *progress.Store) (io.Closer, error) {
	client, err := relay.NewClient(d.cfg.Relay.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	pub := relay.New(client, d.cfg.Relay.Channel, relay.WithLogger(d.logger))
	snapshots.AddSink(pub)
	g.Go(func() error { return pub.Run(ctx) })
	return client, nil
}

func (d *Daemon) logPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg)
	for _, r := range results {
		if r.Passed {
			d.logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		impact := "jobs may fail"
		if r.Optional {
			impact = "optional feature degraded"
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Impact(impact),
			logging.Hint("run reelkit status for details"),
		)
	}
}
