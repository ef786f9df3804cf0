package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizeJobs()
	c.normalizeStuck()
	c.normalizeProgress()
	c.normalizeTracker()
	c.normalizeEncoder()
	c.normalizeRelay()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = defaultSchedulerPollInterval
	}
	if c.Scheduler.AdmissionSpacingMillis < 0 {
		c.Scheduler.AdmissionSpacingMillis = 0
	}
	if c.Scheduler.ErrorRetryInterval <= 0 {
		c.Scheduler.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Scheduler.SweepInterval <= 0 {
		c.Scheduler.SweepInterval = defaultSweepInterval
	}
}

func (c *Config) normalizeJobs() {
	if c.Jobs.InitTimeout <= 0 {
		c.Jobs.InitTimeout = defaultInitTimeout
	}
	if c.Jobs.JobTimeout <= 0 {
		c.Jobs.JobTimeout = defaultJobTimeout
	}
	if c.Jobs.HeartbeatInterval <= 0 {
		c.Jobs.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Jobs.MinOutputBytes <= 0 {
		c.Jobs.MinOutputBytes = defaultMinOutputBytes
	}
}

func (c *Config) normalizeStuck() {
	stages := make([]string, 0, len(c.Stuck.StartupStages))
	for _, stage := range c.Stuck.StartupStages {
		if stage = strings.ToLower(strings.TrimSpace(stage)); stage != "" {
			stages = append(stages, stage)
		}
	}
	c.Stuck.StartupStages = stages
}

func (c *Config) normalizeProgress() {
	if c.Progress.CleanupInterval <= 0 {
		c.Progress.CleanupInterval = defaultCleanupInterval
	}
}

func (c *Config) normalizeTracker() {
	c.Tracker.DaemonURL = strings.TrimSpace(c.Tracker.DaemonURL)
	if c.Tracker.ConnectTimeout <= 0 {
		c.Tracker.ConnectTimeout = defaultConnectTimeout
	}
	if c.Tracker.MinPollMillis <= 0 {
		c.Tracker.MinPollMillis = defaultMinPollMillis
	}
	if c.Tracker.MaxPollInterval <= 0 {
		c.Tracker.MaxPollInterval = defaultMaxPollInterval
	}
	if c.Tracker.StalenessCheckEvery <= 0 {
		c.Tracker.StalenessCheckEvery = defaultStalenessCheckEvery
	}
	if c.Tracker.MaxConsecutiveFailures <= 0 {
		c.Tracker.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
}

func (c *Config) normalizeEncoder() {
	c.Encoder.Backend = strings.ToLower(strings.TrimSpace(c.Encoder.Backend))
	if c.Encoder.Backend == "" {
		c.Encoder.Backend = EncoderBackendCLI
	}
	c.Encoder.Binary = strings.TrimSpace(c.Encoder.Binary)
	if c.Encoder.Binary == "" {
		c.Encoder.Binary = defaultEncoderBinary
	}
	c.Encoder.Preset = strings.TrimSpace(c.Encoder.Preset)
}

func (c *Config) normalizeRelay() {
	c.Relay.RedisURL = strings.TrimSpace(c.Relay.RedisURL)
	c.Relay.Channel = strings.TrimSpace(c.Relay.Channel)
	if c.Relay.Channel == "" {
		c.Relay.Channel = defaultRelayChannel
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
