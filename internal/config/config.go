package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	OutputDir string `toml:"output_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Scheduler contains admission loop settings. Enabled, MaxConcurrentJobs and
// PollInterval are re-read by the loop on every tick.
type Scheduler struct {
	Enabled                bool `toml:"enabled"`
	MaxConcurrentJobs      int  `toml:"max_concurrent_jobs"`
	PollInterval           int  `toml:"poll_interval"`
	AdmissionSpacingMillis int  `toml:"admission_spacing_ms"`
	ErrorRetryInterval     int  `toml:"error_retry_interval"`
	SweepInterval          int  `toml:"sweep_interval"`
}

// Jobs contains per-job execution limits.
type Jobs struct {
	InitTimeout       int   `toml:"init_timeout"`
	JobTimeout        int   `toml:"job_timeout"`
	HeartbeatInterval int   `toml:"heartbeat_interval"`
	MinOutputBytes    int64 `toml:"min_output_bytes"`
}

// Stuck contains the server-side stall thresholds used by the sweeper.
type Stuck struct {
	StartupPercent        int      `toml:"startup_percent"`
	StartupStages         []string `toml:"startup_stages"`
	StartupThreshold      int      `toml:"startup_threshold_minutes"`
	DefaultThreshold      int      `toml:"default_threshold_minutes"`
	FinalizationPercent   int      `toml:"finalization_percent"`
	FinalizationThreshold int      `toml:"finalization_threshold_minutes"`
}

// Progress contains retention settings for snapshots and persisted jobs.
type Progress struct {
	RetentionMinutes   int `toml:"retention_minutes"`
	CleanupInterval    int `toml:"cleanup_interval"`
	PersistedRetention int `toml:"persisted_retention_hours"`
}

// Tracker contains client-side watch settings.
type Tracker struct {
	DaemonURL              string `toml:"daemon_url"`
	ConnectTimeout         int    `toml:"connect_timeout"`
	MinPollMillis          int    `toml:"min_poll_ms"`
	MaxPollInterval        int    `toml:"max_poll_interval"`
	StalenessCheckEvery    int    `toml:"staleness_check_every"`
	LowThreshold           int    `toml:"low_threshold"`
	MidThreshold           int    `toml:"mid_threshold"`
	HighThreshold          int    `toml:"high_threshold"`
	MidPercent             int    `toml:"mid_percent"`
	HighPercent            int    `toml:"high_percent"`
	NearCompletePercent    int    `toml:"near_complete_percent"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"`
}

// Encoder selects the encoding backend.
type Encoder struct {
	Backend string `toml:"backend"`
	Binary  string `toml:"binary"`
	Preset  string `toml:"preset"`
}

// Relay configures the optional Redis progress publisher.
type Relay struct {
	Enabled  bool   `toml:"enabled"`
	RedisURL string `toml:"redis_url"`
	Channel  string `toml:"channel"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for reelkit.
//
// Configuration sections by subsystem:
//   - Paths: data, log and output directories plus the API bind address
//   - Scheduler: admission loop cadence and concurrency
//   - Jobs: per-job timeouts and output verification
//   - Stuck: sweeper stall thresholds
//   - Progress: snapshot and persisted job retention
//   - Tracker: client watch timeouts, polling and staleness
//   - Encoder: drapto backend selection
//   - Relay: Redis progress publishing
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Scheduler Scheduler `toml:"scheduler"`
	Jobs      Jobs      `toml:"jobs"`
	Stuck     Stuck     `toml:"stuck"`
	Progress  Progress  `toml:"progress"`
	Tracker   Tracker   `toml:"tracker"`
	Encoder   Encoder   `toml:"encoder"`
	Relay     Relay     `toml:"relay"`
	Logging   Logging   `toml:"logging"`
}

// Encoder backends accepted by encoder.backend.
const (
	EncoderBackendCLI     = "cli"
	EncoderBackendLibrary = "library"
)

const (
	defaultConfigPath = "~/.config/reelkit/config.toml"
	projectConfigName = "reelkit.toml"
	databaseFileName  = "reelkit.db"
	lockFileName      = "reelkit.lock"
)

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file. The returned config has all path
// fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.OutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, databaseFileName)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, lockFileName)
}

// DaemonURL returns the base URL clients use to reach the API.
func (c *Config) DaemonURL() string {
	if url := strings.TrimSpace(c.Tracker.DaemonURL); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://" + c.Paths.APIBind
}

// PollEvery returns the scheduler tick interval.
func (s Scheduler) PollEvery() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}

// AdmissionSpacing returns the delay inserted between admissions in one tick.
func (s Scheduler) AdmissionSpacing() time.Duration {
	return time.Duration(s.AdmissionSpacingMillis) * time.Millisecond
}

// ErrorBackoff returns the wait after a failed tick.
func (s Scheduler) ErrorBackoff() time.Duration {
	return time.Duration(s.ErrorRetryInterval) * time.Second
}

// SweepEvery returns the stuck job sweep cadence.
func (s Scheduler) SweepEvery() time.Duration {
	return time.Duration(s.SweepInterval) * time.Second
}

// Retention returns how long terminal snapshots are kept in memory.
func (p Progress) Retention() time.Duration {
	return time.Duration(p.RetentionMinutes) * time.Minute
}

// CleanupEvery returns the snapshot cleanup cadence.
func (p Progress) CleanupEvery() time.Duration {
	return time.Duration(p.CleanupInterval) * time.Second
}

// PersistedRetentionWindow returns how long terminal jobs stay in SQLite.
func (p Progress) PersistedRetentionWindow() time.Duration {
	return time.Duration(p.PersistedRetention) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
