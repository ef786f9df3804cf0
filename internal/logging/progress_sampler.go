package logging

import "strings"

// ProgressSampler thins job progress logging to one line per stage change
// or per step-sized percent bucket.
type ProgressSampler struct {
	step  int
	stage string
	// next is the lowest percent that logs again within the current stage.
	next int
	seen bool
}

// NewProgressSampler returns a sampler with the given bucket width; values
// below one fall back to 5.
func NewProgressSampler(step int) *ProgressSampler {
	if step < 1 {
		step = 5
	}
	return &ProgressSampler{step: step}
}

// ShouldLog records the update and reports whether to log it. A negative
// percent is unknown; only a stage change logs then. A nil sampler logs
// everything.
func (s *ProgressSampler) ShouldLog(percent int, stage string) bool {
	if s == nil {
		return true
	}
	emit := false
	if stage = strings.TrimSpace(stage); stage != "" && stage != s.stage {
		s.stage, s.next, s.seen = stage, 0, false
		emit = true
	}
	if percent < 0 {
		return emit
	}
	percent = min(percent, 100)
	if !s.seen || percent >= s.next {
		s.seen = true
		s.next = (percent/s.step + 1) * s.step
		emit = true
	}
	return emit
}

// Reset forgets the current stage and bucket.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.stage, s.next, s.seen = "", 0, false
	}
}
