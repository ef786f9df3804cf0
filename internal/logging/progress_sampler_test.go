package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	for _, size := range []int{0, -3} {
		if s := NewProgressSampler(size); s.step != 5 || s.seen {
			t.Fatalf("NewProgressSampler(%d) = %+v", size, s)
		}
	}
	if s := NewProgressSampler(10); s.step != 10 {
		t.Fatalf("step = %d, want 10", s.step)
	}
}

func TestProgressSamplerNilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "Rendering") {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerStageChange(t *testing.T) {
	s := NewProgressSampler(5)
	if !s.ShouldLog(0, "Analyzing") {
		t.Fatal("first stage should log")
	}
	if s.ShouldLog(0, "  Analyzing ") {
		t.Fatal("same stage and percent should not log again")
	}
	if !s.ShouldLog(0, "Rendering") {
		t.Fatal("different stage should log")
	}
	if s.stage != "Rendering" {
		t.Fatalf("stage = %q", s.stage)
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(5)
	steps := []struct {
		percent int
		want    bool
	}{
		{0, true}, {3, false}, {5, true}, {7, false}, {10, true}, {9, false}, {100, true}, {140, false},
	}
	for _, step := range steps {
		if got := s.ShouldLog(step.percent, "Rendering"); got != step.want {
			t.Fatalf("ShouldLog(%d) = %v, want %v", step.percent, got, step.want)
		}
	}
}

func TestProgressSamplerUnknownPercent(t *testing.T) {
	s := NewProgressSampler(5)
	if !s.ShouldLog(-1, "Muxing") {
		t.Fatal("stage change with unknown percent should log")
	}
	if s.ShouldLog(-1, "Muxing") {
		t.Fatal("unknown percent without stage change should not log")
	}
	s.Reset()
	if !s.ShouldLog(-1, "Muxing") {
		t.Fatal("reset should forget the previous stage")
	}
}
