package preflight

import (
	"context"

	"github.com/Coffee285/AVS-sub001/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
	}

	if cfg.Encoder.Backend == config.EncoderBackendCLI {
		results = append(results,
			CheckBinary("Encoder", cfg.Encoder.Binary, false),
			CheckFFmpegForEncoder(cfg.Encoder.Binary),
		)
	}

	if cfg.Relay.Enabled {
		results = append(results, CheckRedis(ctx, cfg.Relay.RedisURL))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
