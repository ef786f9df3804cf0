package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides lists the settings that may be supplied through the
// environment. Pointer fields stay nil when the variable is unset.
type envOverrides struct {
	APIBind           string `env:"REELKIT_API_BIND"`
	APIToken          string `env:"REELKIT_API_TOKEN"`
	DataDir           string `env:"REELKIT_DATA_DIR"`
	OutputDir         string `env:"REELKIT_OUTPUT_DIR"`
	MaxConcurrentJobs *int   `env:"REELKIT_MAX_CONCURRENT_JOBS"`
	SchedulerEnabled  *bool  `env:"REELKIT_SCHEDULER_ENABLED"`
	EncoderBackend    string `env:"REELKIT_ENCODER_BACKEND"`
	RedisURL          string `env:"REELKIT_REDIS_URL"`
	LogLevel          string `env:"REELKIT_LOG_LEVEL"`
	LogFormat         string `env:"REELKIT_LOG_FORMAT"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Missing files are ignored; variables that
// are already set win.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	setString := func(dst *string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			*dst = value
		}
	}
	setString(&c.Paths.APIBind, overrides.APIBind)
	setString(&c.Paths.APIToken, overrides.APIToken)
	setString(&c.Paths.DataDir, overrides.DataDir)
	setString(&c.Paths.OutputDir, overrides.OutputDir)
	setString(&c.Encoder.Backend, overrides.EncoderBackend)
	setString(&c.Logging.Level, overrides.LogLevel)
	setString(&c.Logging.Format, overrides.LogFormat)
	if url := strings.TrimSpace(overrides.RedisURL); url != "" {
		c.Relay.RedisURL = url
		c.Relay.Enabled = true
	}
	if overrides.MaxConcurrentJobs != nil {
		c.Scheduler.MaxConcurrentJobs = *overrides.MaxConcurrentJobs
	}
	if overrides.SchedulerEnabled != nil {
		c.Scheduler.Enabled = *overrides.SchedulerEnabled
	}
	return nil
}
