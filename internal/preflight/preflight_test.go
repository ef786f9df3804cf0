package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBinary(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "present")

	if got := CheckBinary("Present", present, false); !got.Passed || got.Detail != present {
		t.Fatalf("expected present binary to pass, got %#v", got)
	}
	missing := CheckBinary("Missing", "clearly-not-present-binary", true)
	if missing.Passed || !missing.Optional || missing.Detail == "" {
		t.Fatalf("unexpected result for missing binary: %#v", missing)
	}
	if got := CheckBinary("Empty", "  ", false); got.Passed {
		t.Fatal("expected unconfigured command to fail")
	}
}

func TestCheckFFmpegPrefersSidecar(t *testing.T) {
	dir := t.TempDir()
	encoder := writeStub(t, dir, "drapto")
	sidecar := writeStub(t, dir, executableName("ffmpeg"))

	result := CheckFFmpegForEncoder(encoder)
	if !result.Passed {
		t.Fatalf("expected sidecar ffmpeg to pass, got %q", result.Detail)
	}
	if result.Detail != sidecar {
		t.Fatalf("expected sidecar path %q, got %q", sidecar, result.Detail)
	}
}

func TestCheckRedis_BadURL(t *testing.T) {
	result := CheckRedis(context.Background(), "")
	if result.Passed {
		t.Fatal("expected empty url to fail")
	}
}

func TestRunAllSkipsDisabledRelay(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Encoder.Backend = config.EncoderBackendLibrary
	cfg.Relay.Enabled = false

	results := RunAll(context.Background(), &cfg)
	if len(results) != 3 {
		t.Fatalf("expected only directory checks, got %d: %#v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, got %#v", failed)
	}
}

func TestRunAllChecksEncoderBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("drapto", "ffmpeg"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	names := make(map[string]Result, len(results))
	for _, r := range results {
		names[r.Name] = r
	}
	if !names["Encoder"].Passed {
		t.Fatalf("expected stubbed encoder to pass, got %#v", names["Encoder"])
	}
	if !names["FFmpeg"].Passed {
		t.Fatalf("expected sidecar ffmpeg to pass, got %#v", names["FFmpeg"])
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}

func TestFailedIgnoresOptional(t *testing.T) {
	results := []Result{
		{Name: "a", Passed: true},
		{Name: "b", Optional: true},
		{Name: "c"},
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "c" {
		t.Fatalf("unexpected failed set: %#v", failed)
	}
}

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}
