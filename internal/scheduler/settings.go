package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/config"
)

// MinPollInterval is the smallest poll interval the live settings accept.
const MinPollInterval = 100 * time.Millisecond

// Settings are the values the loop re-reads on every tick.
type Settings struct {
	Enabled           bool          `json:"enabled"`
	MaxConcurrentJobs int           `json:"maxConcurrentJobs"`
	PollInterval      time.Duration `json:"-"`
}

// SettingsSource supplies the current settings.
type SettingsSource interface {
	Settings() Settings
}

// SettingsFromConfig converts the [scheduler] section.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Enabled:           cfg.Scheduler.Enabled,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		PollInterval:      cfg.Scheduler.PollEvery(),
	}
}

// Patch carries a partial settings update. Nil fields are left unchanged.
type Patch struct {
	Enabled           *bool
	MaxConcurrentJobs *int
	PollInterval      *time.Duration
}

// LiveSettings is a concurrency-safe settings holder mutated at runtime.
type LiveSettings struct {
	mu       sync.RWMutex
	settings Settings
}

// NewLiveSettings seeds a holder.
func NewLiveSettings(initial Settings) *LiveSettings {
	return &LiveSettings{settings: initial}
}

// Settings returns a copy of the current settings.
func (l *LiveSettings) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

// Apply validates and applies p, returning the resulting settings.
func (l *LiveSettings) Apply(p Patch) (Settings, error) {
	if p.MaxConcurrentJobs != nil && *p.MaxConcurrentJobs < 0 {
		return Settings{}, errors.New("maxConcurrentJobs must be >= 0")
	}
	if p.PollInterval != nil && *p.PollInterval < MinPollInterval {
		return Settings{}, errors.New("pollInterval must be at least 100ms")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Enabled != nil {
		l.settings.Enabled = *p.Enabled
	}
	if p.MaxConcurrentJobs != nil {
		l.settings.MaxConcurrentJobs = *p.MaxConcurrentJobs
	}
	if p.PollInterval != nil {
		l.settings.PollInterval = *p.PollInterval
	}
	return l.settings, nil
}
