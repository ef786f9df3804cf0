package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateStuck(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateTracker(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrentJobs < 1 {
		return errors.New("scheduler.max_concurrent_jobs must be at least 1")
	}
	return nil
}

func (c *Config) validateStuck() error {
	if c.Stuck.StartupThreshold <= 0 || c.Stuck.DefaultThreshold <= 0 || c.Stuck.FinalizationThreshold <= 0 {
		return errors.New("stuck thresholds must be positive")
	}
	if c.Stuck.FinalizationPercent < 1 || c.Stuck.FinalizationPercent > 100 {
		return errors.New("stuck.finalization_percent must be between 1 and 100")
	}
	if c.Stuck.StartupPercent < 0 || c.Stuck.StartupPercent >= c.Stuck.FinalizationPercent {
		return fmt.Errorf("stuck.startup_percent must be between 0 and %d", c.Stuck.FinalizationPercent-1)
	}
	return nil
}

func (c *Config) validateProgress() error {
	if c.Progress.RetentionMinutes <= 0 {
		return errors.New("progress.retention_minutes must be positive")
	}
	if c.Progress.PersistedRetention <= 0 {
		return errors.New("progress.persisted_retention_hours must be positive")
	}
	return nil
}

func (c *Config) validateTracker() error {
	if c.Tracker.MinPollMillis > c.Tracker.MaxPollInterval*1000 {
		return errors.New("tracker.min_poll_ms must not exceed tracker.max_poll_interval")
	}
	if c.Tracker.LowThreshold <= 0 || c.Tracker.MidThreshold <= 0 || c.Tracker.HighThreshold <= 0 {
		return errors.New("tracker thresholds must be positive")
	}
	if c.Tracker.MidPercent < 0 || c.Tracker.MidPercent > c.Tracker.HighPercent || c.Tracker.HighPercent > 100 {
		return errors.New("tracker.mid_percent and tracker.high_percent must satisfy 0 <= mid <= high <= 100")
	}
	if c.Tracker.NearCompletePercent < 0 || c.Tracker.NearCompletePercent > 100 {
		return errors.New("tracker.near_complete_percent must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	switch c.Encoder.Backend {
	case EncoderBackendCLI, EncoderBackendLibrary:
		return nil
	default:
		return fmt.Errorf("encoder.backend: unsupported value %q (want %q or %q)", c.Encoder.Backend, EncoderBackendCLI, EncoderBackendLibrary)
	}
}

func (c *Config) validateRelay() error {
	if c.Relay.Enabled && c.Relay.RedisURL == "" {
		return errors.New("relay.redis_url must be set when relay.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
