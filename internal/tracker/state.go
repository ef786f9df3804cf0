package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/api"
)

// State is the tracker's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StatePolling
	StateStuck
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StatePolling:
		return "polling"
	case StateStuck:
		return "stuck"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

var (
	// ErrTransportExhausted means consecutive status requests kept failing.
	ErrTransportExhausted = errors.New("progress transport exhausted")
	// ErrJobFailed means the daemon reported the job as failed.
	ErrJobFailed = errors.New("job failed")
	// ErrJobCancelled means the job was cancelled, by request or by the Decider.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrRetryRequested means the Decider chose to restart the job; the new
	// attempt id is in Result.RetryJobID.
	ErrRetryRequested = errors.New("job retry requested")
)

// Action is a Decider's answer to a stuck job.
type Action int

const (
	ActionWait Action = iota
	ActionCancel
	ActionRetry
)

func (a Action) String() string {
	switch a {
	case ActionCancel:
		return "cancel"
	case ActionRetry:
		return "retry"
	default:
		return "wait"
	}
}

// StuckReport describes a stale job to a Decider.
type StuckReport struct {
	JobID     string
	Percent   int
	Stage     string
	Unchanged time.Duration
	Threshold time.Duration
	// Output is the result of the output-existence check, when one ran.
	Output *api.OutputInfo
}

// Decider chooses how to recover a stuck job.
type Decider interface {
	Decide(ctx context.Context, report StuckReport) Action
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, report StuckReport) Action

// Decide implements Decider.
func (f DeciderFunc) Decide(ctx context.Context, report StuckReport) Action {
	return f(ctx, report)
}

// Update is delivered to the observer on every state change and every new
// status.
type Update struct {
	JobID          string
	State          State
	Status         api.JobStatus
	Interval       time.Duration
	UnchangedPolls int
}

// Result is the outcome of Track.
type Result struct {
	JobID  string
	Status api.JobStatus
	State  State
	// Verified is true when completion was established by finding the output
	// artifact rather than by a terminal status.
	Verified   bool
	RetryJobID string
	Polls      int
	Fallbacks  int
}

// session is the per-Track tracking state.
type session struct {
	jobID          string
	lastPercent    int
	lastStage      string
	lastChange     time.Time
	unchangedPolls int
	interval       time.Duration
	stuck          bool
	seen           bool
}

// observe records a status and reports whether percent or stage changed.
func (s *session) observe(status api.JobStatus, now time.Time) bool {
	changed := !s.seen || status.Percent != s.lastPercent || status.Stage != s.lastStage
	s.seen = true
	if changed {
		s.lastPercent = status.Percent
		s.lastStage = status.Stage
		s.lastChange = now
		s.unchangedPolls = 0
		s.stuck = false
		return true
	}
	s.unchangedPolls++
	return false
}
