package sweeper

import (
	"strings"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/config"
)

// Thresholds is the stage-aware stall policy.
//
// A job at or above FinalizationPercent gets the Finalization threshold. Below
// that, a job under StartupPercent or in one of StartupStages gets Startup,
// and everything else gets Default.
type Thresholds struct {
	StartupPercent      int
	StartupStages       []string
	Startup             time.Duration
	Default             time.Duration
	FinalizationPercent int
	Finalization        time.Duration
}

// ThresholdsFromConfig converts the [stuck] section.
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		StartupPercent:      cfg.Stuck.StartupPercent,
		StartupStages:       append([]string(nil), cfg.Stuck.StartupStages...),
		Startup:             time.Duration(cfg.Stuck.StartupThreshold) * time.Minute,
		Default:             time.Duration(cfg.Stuck.DefaultThreshold) * time.Minute,
		FinalizationPercent: cfg.Stuck.FinalizationPercent,
		Finalization:        time.Duration(cfg.Stuck.FinalizationThreshold) * time.Minute,
	}
}

// Threshold returns how long a job at (stage, percent) may go without
// progress before it is considered stuck.
func (t Thresholds) Threshold(stage string, percent int) time.Duration {
	switch {
	case percent >= t.FinalizationPercent:
		return t.Finalization
	case percent < t.StartupPercent || t.isStartupStage(stage):
		return t.Startup
	default:
		return t.Default
	}
}

func (t Thresholds) isStartupStage(stage string) bool {
	stage = strings.ToLower(strings.TrimSpace(stage))
	if stage == "" {
		return true
	}
	for _, candidate := range t.StartupStages {
		if stage == candidate {
			return true
		}
	}
	return false
}
