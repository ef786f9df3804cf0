package tracker

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Coffee285/AVS-sub001/internal/config"
)

func defaultThresholds() Thresholds {
	cfg := config.Default()
	return OptionsFromConfig(&cfg).Thresholds
}

func TestStaleThresholdSteps(t *testing.T) {
	th := defaultThresholds()
	assert.Equal(t, 3*time.Minute, StaleThreshold(0, th))
	assert.Equal(t, 3*time.Minute, StaleThreshold(49, th))
	assert.Equal(t, 5*time.Minute, StaleThreshold(50, th))
	assert.Equal(t, 5*time.Minute, StaleThreshold(89, th))
	assert.Equal(t, 10*time.Minute, StaleThreshold(90, th))
	assert.Equal(t, 10*time.Minute, StaleThreshold(100, th))

	prev := time.Duration(0)
	for p := 0; p <= 100; p++ {
		cur := StaleThreshold(p, th)
		assert.GreaterOrEqual(t, cur, prev, "threshold must not shrink as progress grows (p=%d)", p)
		prev = cur
	}
}

func TestIsStaleBoundary(t *testing.T) {
	th := defaultThresholds()
	assert.False(t, IsStale(3*time.Minute-time.Second, 10, th))
	assert.True(t, IsStale(3*time.Minute, 10, th))
	assert.False(t, IsStale(9*time.Minute, 95, th))
	assert.True(t, IsStale(10*time.Minute, 95, th))
}

func TestNextPollInterval(t *testing.T) {
	minI, maxI := time.Second, 30*time.Second
	assert.Equal(t, minI, NextPollInterval(0, false, minI, maxI))
	assert.Equal(t, 3*time.Second, NextPollInterval(2*time.Second, false, minI, maxI))
	assert.Equal(t, 2*time.Second, NextPollInterval(4*time.Second, true, minI, maxI))
	assert.Equal(t, minI, NextPollInterval(time.Second, true, minI, maxI))
	assert.Equal(t, maxI, NextPollInterval(25*time.Second, false, minI, maxI))

	rng := rand.New(rand.NewSource(3))
	current := minI
	for i := 0; i < 500; i++ {
		changed := rng.Intn(3) == 0
		next := NextPollInterval(current, changed, minI, maxI)
		assert.GreaterOrEqual(t, next, minI)
		assert.LessOrEqual(t, next, maxI)
		if changed {
			assert.LessOrEqual(t, next, current)
		} else {
			assert.GreaterOrEqual(t, next, current)
		}
		current = next
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, 5*time.Second, opts.ConnectTimeout)
	assert.Equal(t, time.Second, opts.MinPoll)
	assert.Equal(t, 30*time.Second, opts.MaxPoll)
	assert.Equal(t, 3, opts.StalenessCheckEvery)
	assert.Equal(t, 90, opts.NearCompletePercent)
	assert.Equal(t, 5, opts.MaxConsecutiveFailures)
	assert.Equal(t, defaultThresholds(), opts.Thresholds)
}
