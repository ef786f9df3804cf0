package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/daemon"
	"github.com/Coffee285/AVS-sub001/internal/encoder"
	"github.com/Coffee285/AVS-sub001/internal/testsupport"
)

type instantEncoder struct{}

func (instantEncoder) Prepare(context.Context, encoder.Request) error { return nil }

func (instantEncoder) Encode(_ context.Context, req encoder.Request, progress func(encoder.Update)) (string, error) {
	progress(encoder.Update{Percent: 50, Stage: "Encoding"})
	out := encoder.OutputPath(req.Source, req.OutputDir)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	return out, os.WriteFile(out, []byte("matroska"), 0o644)
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	url        string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("cli-token"), testsupport.WithLibraryEncoder())

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	d, err := daemon.New(cfg, nil, daemon.WithEncoder(instantEncoder{}))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	select {
	case <-d.Ready():
	case err := <-done:
		t.Fatalf("daemon exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon not ready")
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, url: "http://" + d.Addr()}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	full := append([]string{"--config", env.configPath, "--daemon-url", env.url}, args...)
	return runCLI(t, full...)
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestSubmitWatchReportsCompletion(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, stderr, err := env.run(t, "--json", "submit", "--watch", "--on-stuck", "wait", "/media/in/clip.mov")
	require.NoError(t, err, stderr)

	var final api.JobStatus
	require.NoError(t, json.Unmarshal([]byte(stdout), &final))
	assert.Equal(t, "completed", final.Status)
	assert.Equal(t, filepath.Join(env.cfg.Paths.OutputDir, "clip.mkv"), final.OutputPath)
	assert.Contains(t, stderr, "Queued job")
}

func TestJobsShowAndOutput(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := env.run(t, "--json", "submit", "--label", "Intro", "/media/in/intro.mov")
	require.NoError(t, err)
	var submitted api.JobStatus
	require.NoError(t, json.Unmarshal([]byte(stdout), &submitted))

	_, _, err = env.run(t, "watch", "--on-stuck", "wait", submitted.JobID)
	require.NoError(t, err)

	table, _, err := env.run(t, "jobs", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, table, submitted.JobID)
	assert.Contains(t, table, "Intro")

	show, _, err := env.run(t, "show", submitted.JobID)
	require.NoError(t, err)
	assert.Contains(t, show, "completed")
	assert.Contains(t, show, "intro.mkv")

	out, _, err := env.run(t, "output", submitted.JobID)
	require.NoError(t, err)
	assert.Contains(t, out, "[OK]")
}

func TestSchedulerPauseAndSet(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "scheduler", "pause")
	require.NoError(t, err)
	assert.Contains(t, out, "Enabled:             no")

	out, _, err = env.run(t, "--json", "scheduler", "set", "--max-jobs", "4", "--poll", "2s")
	require.NoError(t, err)
	var settings api.SchedulerSettings
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	assert.False(t, settings.Enabled)
	assert.Equal(t, 4, settings.MaxConcurrentJobs)
	assert.EqualValues(t, 2000, settings.PollIntervalMillis)

	_, _, err = env.run(t, "scheduler", "set")
	assert.Error(t, err)
}

func TestCancelQueuedJobWhilePaused(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "scheduler", "pause")
	require.NoError(t, err)

	stdout, _, err := env.run(t, "--json", "submit", "/media/in/held.mov")
	require.NoError(t, err)
	var submitted api.JobStatus
	require.NoError(t, json.Unmarshal([]byte(stdout), &submitted))

	out, _, err := env.run(t, "cancel", submitted.JobID)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancellation requested")

	_, _, err = env.run(t, "watch", submitted.JobID)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	stdout, _, err = env.run(t, "--json", "retry", submitted.JobID)
	require.NoError(t, err)
	var retried api.JobStatus
	require.NoError(t, json.Unmarshal([]byte(stdout), &retried))
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, submitted.JobID, retried.RetryOf)
}

func TestStatusShowsDaemonAndChecks(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "running (pid")
	assert.Contains(t, out, "Data directory")
}

func TestCommandsReportUnreachableDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	_, _, err = runCLI(t, "--config", configPath, "--daemon-url", "http://127.0.0.1:1", "jobs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reelkit daemon")
}

func TestConfigInitWritesSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err := runCLI(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, target)

	_, _, err = runCLI(t, "config", "init", "--path", target)
	assert.ErrorContains(t, err, "already exists")

	out, _, err = runCLI(t, "--config", target, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
}

func TestInvalidOnStuckMode(t *testing.T) {
	_, err := newDecider("panic", strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, err)
	d, err := newDecider("ask", strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.NotNil(t, d)
}
