package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/client"
	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/daemon"
	"github.com/Coffee285/AVS-sub001/internal/encoder"
	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/queue"
	"github.com/Coffee285/AVS-sub001/internal/testsupport"
	"github.com/Coffee285/AVS-sub001/internal/tracker"
)

// steppedEncoder reports a few progress steps and writes the artifact.
type steppedEncoder struct {
	mu      sync.Mutex
	release chan struct{}
}

func (e *steppedEncoder) Prepare(context.Context, encoder.Request) error { return nil }

func (e *steppedEncoder) Encode(ctx context.Context, req encoder.Request, progress func(encoder.Update)) (string, error) {
	for _, pct := range []float64{10, 50, 90} {
		progress(encoder.Update{Percent: pct, Stage: "Encoding"})
		time.Sleep(10 * time.Millisecond)
	}
	e.mu.Lock()
	release := e.release
	e.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	out := encoder.OutputPath(req.Source, req.OutputDir)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(out, []byte("matroska"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func startDaemon(t *testing.T, cfg *config.Config, enc encoder.Encoder) (*daemon.Daemon, *client.Client, func() error) {
	t.Helper()
	d, err := daemon.New(cfg, nil, daemon.WithEncoder(enc))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not become ready")
	}

	c, err := client.New(d.Addr(), client.WithToken(cfg.Paths.APIToken))
	require.NoError(t, err)

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(5 * time.Second):
				runErr = errors.New("daemon did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return d, c, stop
}

func TestSubmitTrackComplete(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("secret"))
	_, c, stop := startDaemon(t, cfg, &steppedEncoder{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	submitted, err := c.Submit(ctx, api.SubmitRequest{Source: "/media/in/trailer.mov", Label: "Trailer"})
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, submitted.StatusValue())

	opts := tracker.OptionsFromConfig(cfg)
	tr := tracker.New(tracker.NewHTTPTransport(c), opts)
	result, err := tr.Track(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, result.Status.StatusValue())
	assert.Equal(t, filepath.Join(cfg.Paths.OutputDir, "trailer.mkv"), result.Status.OutputPath)

	info, err := c.Output(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.True(t, info.Exists)

	status, err := c.DaemonStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Queue.Completed)

	require.NoError(t, stop())
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	startDaemon(t, cfg, &steppedEncoder{})

	second, err := daemon.New(cfg, nil, daemon.WithEncoder(&steppedEncoder{}))
	require.NoError(t, err)
	err = second.Run(context.Background())
	assert.ErrorIs(t, err, daemon.ErrAlreadyRunning)
}

func TestRestartFailsOrphanedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	require.NoError(t, err)
	orphan := testsupport.MustStartRunning(t, store, "/media/in/orphan.mov", time.Now().Add(-time.Minute))
	require.NoError(t, store.Close())

	_, c, _ := startDaemon(t, cfg, &steppedEncoder{})
	status, err := c.Status(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, status.StatusValue())
	assert.Equal(t, daemon.OrphanMessage, status.ErrorMessage)
}

func TestShutdownFailsRunningJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	enc := &steppedEncoder{release: make(chan struct{})}
	_, c, stop := startDaemon(t, cfg, enc)

	ctx := context.Background()
	submitted, err := c.Submit(ctx, api.SubmitRequest{Source: "/media/in/long.mov"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := c.Status(ctx, submitted.JobID)
		return err == nil && st.StatusValue() == job.StatusRunning
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, stop())

	store, err := queue.OpenPath(cfg.DatabasePath())
	require.NoError(t, err)
	defer store.Close()
	persisted, err := store.GetByID(ctx, submitted.JobID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, job.StatusFailed, persisted.Status)
}
