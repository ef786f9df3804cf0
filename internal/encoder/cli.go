package encoder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/services"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

// Option configures the CLI backend.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary = strings.TrimSpace(binary); binary != "" {
			c.binary = binary
		}
	}
}

// WithPreset passes a drapto preset to every encode that does not set its own.
func WithPreset(preset string) Option {
	return func(c *CLI) {
		c.preset = strings.TrimSpace(preset)
	}
}

// CLI wraps the drapto command-line encoder.
type CLI struct {
	binary string
	preset string
}

// NewCLI constructs a CLI backend using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "drapto"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Binary returns the executable the backend launches.
func (c *CLI) Binary() string { return c.binary }

// Prepare resolves the binary and checks the source and output directory.
func (c *CLI) Prepare(ctx context.Context, req Request) error {
	if _, err := lookPath(c.binary); err != nil {
		return services.Wrap(services.ErrConfiguration, "initialization", "locate "+c.binary, "", err)
	}
	return prepareFilesystem(ctx, req)
}

type progressLine struct {
	Type       string  `json:"type"`
	Percent    float64 `json:"percent"`
	Stage      string  `json:"stage"`
	Message    string  `json:"message"`
	ETASeconds float64 `json:"eta_seconds"`
	Speed      float64 `json:"speed"`
	FPS        float64 `json:"fps"`
}

// Encode launches drapto encode and returns the output path. Lines that are
// not JSON are skipped.
func (c *CLI) Encode(ctx context.Context, req Request, progress func(Update)) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	outputDir := strings.TrimSpace(req.OutputDir)

	args := []string{"encode", "--input", req.Source, "--output", outputDir, "--responsive", "--progress-json"}
	preset := strings.TrimSpace(req.Preset)
	if preset == "" {
		preset = c.preset
	}
	if preset != "" {
		args = append(args, "--preset", preset)
	}
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "encode", "start drapto", "", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var payload progressLine
		if err := json.Unmarshal(scanner.Bytes(), &payload); err != nil {
			continue
		}
		if progress == nil {
			continue
		}
		progress(Update{
			Percent: payload.Percent,
			Stage:   payload.Stage,
			Message: payload.Message,
			ETA:     time.Duration(payload.ETASeconds * float64(time.Second)),
			Speed:   payload.Speed,
			FPS:     payload.FPS,
		})
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", services.Wrap(services.ErrExternalTool, "encode", "drapto encode", "exited with error", err)
	}
	if scanErr != nil {
		return "", services.Wrap(services.ErrTransient, "encode", "read drapto output", "", scanErr)
	}
	return OutputPath(req.Source, outputDir), nil
}

var _ Encoder = (*CLI)(nil)
