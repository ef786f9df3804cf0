package tracker

import (
	"time"

	"github.com/Coffee285/AVS-sub001/internal/config"
)

// Thresholds are the client-side staleness limits, stepped by progress.
type Thresholds struct {
	Low         time.Duration
	Mid         time.Duration
	High        time.Duration
	MidPercent  int
	HighPercent int
}

// StaleThreshold returns how long progress may stay unchanged at percent.
// Higher progress tolerates longer silences for finalization work.
func StaleThreshold(percent int, th Thresholds) time.Duration {
	switch {
	case percent >= th.HighPercent:
		return th.High
	case percent >= th.MidPercent:
		return th.Mid
	default:
		return th.Low
	}
}

// IsStale reports whether unchanged progress for since exceeds the threshold.
func IsStale(since time.Duration, percent int, th Thresholds) bool {
	return since >= StaleThreshold(percent, th)
}

// NextPollInterval halves the interval when progress changed and grows it by
// half otherwise, bounded to [min, max].
func NextPollInterval(current time.Duration, changed bool, minInterval, maxInterval time.Duration) time.Duration {
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	if current <= 0 {
		return minInterval
	}
	next := current + current/2
	if changed {
		next = current / 2
	}
	switch {
	case next < minInterval:
		return minInterval
	case next > maxInterval:
		return maxInterval
	default:
		return next
	}
}

// Options tunes a Tracker.
type Options struct {
	ConnectTimeout         time.Duration
	MinPoll                time.Duration
	MaxPoll                time.Duration
	StalenessCheckEvery    int
	Thresholds             Thresholds
	NearCompletePercent    int
	MaxConsecutiveFailures int
	// RequestTimeout bounds each status, output, cancel and retry request.
	// Zero means MaxPoll.
	RequestTimeout time.Duration
}

// OptionsFromConfig maps the [tracker] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Tracker
	return Options{
		ConnectTimeout:      time.Duration(t.ConnectTimeout) * time.Second,
		MinPoll:             time.Duration(t.MinPollMillis) * time.Millisecond,
		MaxPoll:             time.Duration(t.MaxPollInterval) * time.Second,
		StalenessCheckEvery: t.StalenessCheckEvery,
		Thresholds: Thresholds{
			Low:         time.Duration(t.LowThreshold) * time.Second,
			Mid:         time.Duration(t.MidThreshold) * time.Second,
			High:        time.Duration(t.HighThreshold) * time.Second,
			MidPercent:  t.MidPercent,
			HighPercent: t.HighPercent,
		},
		NearCompletePercent:    t.NearCompletePercent,
		MaxConsecutiveFailures: t.MaxConsecutiveFailures,
	}
}

func (o Options) withDefaults() Options {
	def := OptionsFromConfig(&config.Config{Tracker: config.Default().Tracker})
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.MinPoll <= 0 {
		o.MinPoll = def.MinPoll
	}
	if o.MaxPoll <= 0 {
		o.MaxPoll = def.MaxPoll
	}
	if o.StalenessCheckEvery <= 0 {
		o.StalenessCheckEvery = def.StalenessCheckEvery
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = def.Thresholds
	}
	if o.NearCompletePercent <= 0 {
		o.NearCompletePercent = def.NearCompletePercent
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = o.MaxPoll
	}
	return o
}
