package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/services"
)

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Encoder.Binary = "/opt/drapto"
	enc, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cli, ok := enc.(*CLI)
	if !ok || cli.Binary() != "/opt/drapto" {
		t.Fatalf("expected CLI backend with binary override, got %#v", enc)
	}

	cfg.Encoder.Backend = config.EncoderBackendLibrary
	if enc, err = New(&cfg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := enc.(*Library); !ok {
		t.Fatalf("expected library backend, got %#v", enc)
	}

	cfg.Encoder.Backend = "ffmpeg"
	if _, err := New(&cfg); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestCLIEncodeRequiresInput(t *testing.T) {
	cli := NewCLI()
	if _, err := cli.Encode(context.Background(), Request{OutputDir: "/tmp"}, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error when input path is empty, got %v", err)
	}
	if _, err := cli.Encode(context.Background(), Request{Source: "/media/a.mov"}, nil); err == nil {
		t.Fatal("expected error when output directory is empty")
	}
}

func TestCLIPrepare(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "clip.mov")
	if err := os.WriteFile(source, []byte("frames"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	outputDir := filepath.Join(dir, "out", "nested")

	original := lookPath
	lookPath = func(string) (string, error) { return "/usr/bin/drapto", nil }
	t.Cleanup(func() { lookPath = original })

	cli := NewCLI()
	if err := cli.Prepare(context.Background(), Request{Source: source, OutputDir: outputDir}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if info, err := os.Stat(outputDir); err != nil || !info.IsDir() {
		t.Fatalf("expected output directory to be created: %v", err)
	}

	if err := cli.Prepare(context.Background(), Request{Source: filepath.Join(dir, "missing.mov"), OutputDir: outputDir}); err == nil {
		t.Fatal("expected missing source to fail")
	}

	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if err := cli.Prepare(context.Background(), Request{Source: source, OutputDir: outputDir}); !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCLIEncodeIncludesFlags(t *testing.T) {
	var capturedArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedArgs = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "DRAPTO_HELPER_MODE=success")
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})

	cli := NewCLI(WithPreset("grain"))
	dir := t.TempDir()
	req := Request{Source: filepath.Join(dir, "movie.mov"), OutputDir: filepath.Join(dir, "encoded")}
	if _, err := cli.Encode(context.Background(), req, nil); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	for _, flag := range []string{"--progress-json", "--responsive"} {
		if findArg(capturedArgs, flag) == -1 {
			t.Fatalf("expected %s in args %v", flag, capturedArgs)
		}
	}
	idx := findArg(capturedArgs, "--preset")
	if idx == -1 || idx+1 >= len(capturedArgs) || capturedArgs[idx+1] != "grain" {
		t.Fatalf("expected --preset grain in args %v", capturedArgs)
	}

	req.Preset = "film"
	if _, err := cli.Encode(context.Background(), req, nil); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	idx = findArg(capturedArgs, "--preset")
	if idx == -1 || capturedArgs[idx+1] != "film" {
		t.Fatalf("expected per-request preset to win, got %v", capturedArgs)
	}
}

func TestCLIEncodeSuccess(t *testing.T) {
	setHelperCommand(t, "success")

	cli := NewCLI()
	dir := t.TempDir()
	req := Request{Source: filepath.Join(dir, "source.mov"), OutputDir: filepath.Join(dir, "encoded")}

	var updates []Update
	path, err := cli.Encode(context.Background(), req, func(update Update) {
		updates = append(updates, update)
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if expected := filepath.Join(req.OutputDir, "source.mkv"); path != expected {
		t.Fatalf("expected output path %q, got %q", expected, path)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 progress updates, got %d", len(updates))
	}
	if updates[2].Percent != 100 {
		t.Fatalf("expected final update to report 100 percent, got %f", updates[2].Percent)
	}
	middle := updates[1]
	if middle.Stage != "encoding" || middle.ETA != 5*time.Minute || middle.Speed != 3.0 || middle.FPS != 72.0 {
		t.Fatalf("unexpected middle update: %#v", middle)
	}
}

func TestCLIEncodeFailure(t *testing.T) {
	setHelperCommand(t, "failure")

	dir := t.TempDir()
	req := Request{Source: filepath.Join(dir, "movie.mov"), OutputDir: filepath.Join(dir, "encoded")}
	_, err := NewCLI().Encode(context.Background(), req, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestCLIEncodeSkipsInvalidJSON(t *testing.T) {
	setHelperCommand(t, "badjson")

	dir := t.TempDir()
	req := Request{Source: filepath.Join(dir, "clip.mov"), OutputDir: filepath.Join(dir, "encoded")}
	var updates []Update
	if _, err := NewCLI().Encode(context.Background(), req, func(update Update) {
		updates = append(updates, update)
	}); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if len(updates) != 1 || updates[0].Stage != "encoding" {
		t.Fatalf("expected one encoding update, got %#v", updates)
	}
}

func TestCLIEncodeHonorsCancellation(t *testing.T) {
	setHelperCommand(t, "hang")

	dir := t.TempDir()
	req := Request{Source: filepath.Join(dir, "clip.mov"), OutputDir: filepath.Join(dir, "encoded")}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewCLI().Encode(ctx, req, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("DRAPTO_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("DRAPTO_HELPER_MODE") {
	case "success":
		fmt.Println(`{"type":"stage_progress","percent":0,"stage":"start","message":"begin"}`)
		fmt.Println(`{"type":"encoding_progress","percent":50,"stage":"encoding","eta_seconds":300,"speed":3.0,"fps":72.0}`)
		fmt.Println(`{"type":"stage_progress","percent":100,"stage":"complete","message":"done"}`)
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "encode failed")
		os.Exit(1)
	case "badjson":
		fmt.Println("not-json")
		fmt.Println(`{"type":"encoding_progress","percent":75,"stage":"encoding","eta_seconds":120}`)
		os.Exit(0)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}

func findArg(args []string, target string) int {
	for i, arg := range args {
		if arg == target {
			return i
		}
	}
	return -1
}

func TestLibraryPrepareMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := NewLibrary().Prepare(context.Background(), Request{Source: filepath.Join(dir, "absent.mov"), OutputDir: dir})
	if !errors.Is(err, services.ErrNotFound) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-found error wrapping os.ErrNotExist, got %v", err)
	}
}
