package encoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/config"
	"github.com/Coffee285/AVS-sub001/internal/services"
)

// Update is a progress report from a running encode. A negative Percent
// means the backend reported a stage change without a percentage.
type Update struct {
	Percent float64
	Stage   string
	Message string
	ETA     time.Duration
	Speed   float64
	FPS     float64
}

// Request describes one encode.
type Request struct {
	JobID     string
	Source    string
	OutputDir string
	Preset    string
}

// Encoder is the external encoding collaborator.
type Encoder interface {
	// Prepare performs the bounded initialization step before encoding.
	Prepare(ctx context.Context, req Request) error
	// Encode runs the encode and returns the artifact path.
	Encode(ctx context.Context, req Request, progress func(Update)) (string, error)
}

// New selects the backend configured in cfg.Encoder.
func New(cfg *config.Config) (Encoder, error) {
	if cfg == nil {
		return NewCLI(), nil
	}
	switch cfg.Encoder.Backend {
	case "", config.EncoderBackendCLI:
		return NewCLI(WithBinary(cfg.Encoder.Binary), WithPreset(cfg.Encoder.Preset)), nil
	case config.EncoderBackendLibrary:
		return NewLibrary(), nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", cfg.Encoder.Backend)
	}
}

// OutputPath returns where drapto writes the artifact for source.
func OutputPath(source, outputDir string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(strings.TrimSpace(outputDir), stem+".mkv")
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Source) == "" {
		return services.Wrap(services.ErrValidation, "initialization", "validate request", "input path required", nil)
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return services.Wrap(services.ErrValidation, "initialization", "validate request", "output directory required", nil)
	}
	return nil
}

func prepareFilesystem(ctx context.Context, req Request) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(req.Source)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "initialization", "stat source", "", err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, "initialization", "stat source", fmt.Sprintf("%q is a directory", req.Source), nil)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "initialization", "create output directory", "", err)
	}
	return nil
}
