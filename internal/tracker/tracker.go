package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
)

// EventSource yields feed events until io.EOF.
type EventSource interface {
	Next() (api.StreamEvent, error)
	Close() error
}

// Transport is the daemon surface a Tracker needs.
type Transport interface {
	Events(ctx context.Context, id string) (EventSource, error)
	Status(ctx context.Context, id string) (api.JobStatus, error)
	Output(ctx context.Context, id string) (api.OutputInfo, error)
	Cancel(ctx context.Context, id string) (api.CancelResponse, error)
	Retry(ctx context.Context, id string) (api.JobStatus, error)
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithDecider sets the stuck-job Decider. Without one the tracker waits.
func WithDecider(d Decider) Option {
	return func(t *Tracker) {
		t.decider = d
	}
}

// WithObserver registers a callback for state changes and status updates.
func WithObserver(fn func(Update)) Option {
	return func(t *Tracker) {
		t.observer = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker follows jobs to a trusted terminal state. A Tracker runs one Track
// at a time.
type Tracker struct {
	transport Transport
	opts      Options
	logger    *slog.Logger
	decider   Decider
	observer  func(Update)
	now       func() time.Time
	state     atomic.Int32
}

// New constructs a Tracker. Zero Options fields take config defaults.
func New(transport Transport, opts Options, extra ...Option) *Tracker {
	t := &Tracker{
		transport: transport,
		opts:      opts.withDefaults(),
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range extra {
		opt(t)
	}
	t.logger = logging.NewComponentLogger(t.logger, "tracker")
	return t
}

// State returns the current state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

func (t *Tracker) setState(s *session, state State, status api.JobStatus) {
	previous := State(t.state.Swap(int32(state)))
	if previous != state {
		t.logger.Debug("tracker state changed",
			logging.JobID(s.jobID),
			logging.String("from", previous.String()),
			logging.String("to", state.String()),
		)
	}
	t.notify(s, status)
}

func (t *Tracker) notify(s *session, status api.JobStatus) {
	if t.observer != nil {
		t.observer(Update{
			JobID:          s.jobID,
			State:          t.State(),
			Status:         status,
			Interval:       s.interval,
			UnchangedPolls: s.unchangedPolls,
		})
	}
}

// outcome is a settled terminal status; nil means keep tracking.
type outcome struct {
	result Result
	err    error
}

// settle classifies a status. Completed without output is not terminal.
func (t *Tracker) settle(s *session, status api.JobStatus) *outcome {
	res := Result{JobID: s.jobID, Status: status, State: StateTerminal}
	switch status.StatusValue() {
	case job.StatusCompleted:
		if strings.TrimSpace(status.OutputPath) == "" {
			logging.WarnWithContext(t.logger, "completed status without output ignored", "tracker_unverified_completion",
				logging.JobID(s.jobID),
				logging.Impact("tracking continues until the output is confirmed"),
			)
			return nil
		}
		return &outcome{result: res}
	case job.StatusFailed:
		msg := status.ErrorMessage
		if msg == "" {
			msg = job.DefaultFailureMessage
		}
		return &outcome{result: res, err: fmt.Errorf("%w: %s", ErrJobFailed, msg)}
	case job.StatusCancelled:
		return &outcome{result: res, err: ErrJobCancelled}
	default:
		return nil
	}
}

func (t *Tracker) finish(s *session, o *outcome, polls, fallbacks int) (Result, error) {
	o.result.Polls = polls
	o.result.Fallbacks = fallbacks
	t.setState(s, StateTerminal, o.result.Status)
	return o.result, o.err
}

// Track follows id until a terminal state, a Decider action, exhausted
// transport retries, or ctx cancellation.
func (t *Tracker) Track(ctx context.Context, id string) (Result, error) {
	s := &session{jobID: id, lastChange: t.now(), interval: t.opts.MinPoll}
	t.setState(s, StateConnecting, api.JobStatus{JobID: id})

	fallbacks := 0
	last, o, err := t.stream(ctx, s)
	if err != nil {
		return Result{JobID: id, State: t.State()}, err
	}
	if o != nil {
		return t.finish(s, o, 0, fallbacks)
	}
	fallbacks++
	return t.poll(ctx, s, last, fallbacks)
}

type streamItem struct {
	evt api.StreamEvent
	err error
}

// stream runs Connecting and Streaming. It returns a settled outcome, or the
// last status seen when the tracker should fall back to polling. Only ctx
// cancellation is returned as an error.
func (t *Tracker) stream(ctx context.Context, s *session) (api.JobStatus, *outcome, error) {
	last := api.JobStatus{JobID: s.jobID}
	logger := t.logger.With(logging.JobID(s.jobID))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opened := make(chan EventSource)
	openErr := make(chan error, 1)
	go func() {
		src, err := t.transport.Events(streamCtx, s.jobID)
		if err != nil {
			openErr <- err
			return
		}
		select {
		case opened <- src:
		case <-streamCtx.Done():
			_ = src.Close()
		}
	}()

	connectTimer := time.NewTimer(t.opts.ConnectTimeout)
	defer connectTimer.Stop()

	var src EventSource
	select {
	case <-ctx.Done():
		return last, nil, ctx.Err()
	case err := <-openErr:
		logger.Info("progress feed unavailable; polling", logging.Error(err))
		return last, nil, nil
	case <-connectTimer.C:
		logger.Info("progress feed did not connect in time; polling",
			logging.Duration("timeout", t.opts.ConnectTimeout))
		cancel()
		return last, nil, nil
	case src = <-opened:
	}
	defer src.Close()

	done := make(chan struct{})
	defer close(done)
	items := make(chan streamItem)
	go func() {
		for {
			evt, err := src.Next()
			select {
			case items <- streamItem{evt: evt, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	staleCheck := time.NewTicker(t.opts.MaxPoll)
	defer staleCheck.Stop()
	connected := false
	for {
		select {
		case <-ctx.Done():
			return last, nil, ctx.Err()
		case <-connectTimer.C:
			if !connected {
				logger.Info("no acknowledgment on progress feed; polling",
					logging.Duration("timeout", t.opts.ConnectTimeout))
				return last, nil, nil
			}
		case <-staleCheck.C:
			if connected && IsStale(t.now().Sub(s.lastChange), s.lastPercent, t.opts.Thresholds) {
				logger.Info("progress feed quiet past staleness threshold; polling",
					logging.Percent(s.lastPercent),
					logging.Stage(s.lastStage))
				return last, nil, nil
			}
		case item := <-items:
			if item.err != nil {
				if !errors.Is(item.err, io.EOF) {
					logger.Info("progress feed error", logging.Error(item.err))
				}
				return t.recheck(ctx, s, last)
			}
			if !connected {
				connected = true
				t.setState(s, StateStreaming, last)
			}
			if item.evt.Job == nil {
				continue
			}
			last = *item.evt.Job
			if last.JobID == "" {
				last.JobID = s.jobID
			}
			s.observe(last, t.now())
			t.notify(s, last)
			if o := t.settle(s, last); o != nil {
				return last, o, nil
			}
			if item.evt.IsTerminal() {
				// A terminal event that did not settle (completed without
				// output) ends the feed; polling takes over.
				return last, nil, nil
			}
		}
	}
}

// recheck queries status once after the feed closed before a terminal event.
func (t *Tracker) recheck(ctx context.Context, s *session, last api.JobStatus) (api.JobStatus, *outcome, error) {
	status, err := t.status(ctx, s.jobID)
	if err != nil {
		if ctx.Err() != nil {
			return last, nil, ctx.Err()
		}
		t.logger.Info("status recheck after feed loss failed; polling",
			logging.JobID(s.jobID), logging.Error(err))
		return last, nil, nil
	}
	s.observe(status, t.now())
	t.notify(s, status)
	return status, t.settle(s, status), nil
}

func (t *Tracker) poll(ctx context.Context, s *session, last api.JobStatus, fallbacks int) (Result, error) {
	logger := t.logger.With(logging.JobID(s.jobID))
	t.setState(s, StatePolling, last)

	polls := 0
	failures := 0
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{JobID: s.jobID, Status: last, State: t.State(), Polls: polls, Fallbacks: fallbacks}, ctx.Err()
		case <-timer.C:
		}

		status, err := t.status(ctx, s.jobID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			logger.Debug("status poll failed", logging.Int("consecutive_failures", failures), logging.Error(err))
			if failures >= t.opts.MaxConsecutiveFailures {
				return Result{JobID: s.jobID, Status: last, State: t.State(), Polls: polls, Fallbacks: fallbacks},
					fmt.Errorf("%w: %d consecutive status failures: %v", ErrTransportExhausted, failures, err)
			}
			s.interval = NextPollInterval(s.interval, false, t.opts.MinPoll, t.opts.MaxPoll)
			timer.Reset(s.interval)
			continue
		}
		failures = 0
		polls++
		last = status
		changed := s.observe(status, t.now())
		t.notify(s, status)

		if o := t.settle(s, status); o != nil {
			return t.finish(s, o, polls, fallbacks)
		}
		s.interval = NextPollInterval(s.interval, changed, t.opts.MinPoll, t.opts.MaxPoll)

		if polls%t.opts.StalenessCheckEvery == 0 {
			unchanged := t.now().Sub(s.lastChange)
			if IsStale(unchanged, s.lastPercent, t.opts.Thresholds) {
				res, done, err := t.handleStuck(ctx, s, status, unchanged)
				if done {
					res.Polls = polls
					res.Fallbacks = fallbacks
					return res, err
				}
			}
		}
		timer.Reset(s.interval)
	}
}

// handleStuck runs the Stuck substate. It returns done=false when tracking
// should resume polling.
func (t *Tracker) handleStuck(ctx context.Context, s *session, status api.JobStatus, unchanged time.Duration) (Result, bool, error) {
	s.stuck = true
	t.setState(s, StateStuck, status)
	threshold := StaleThreshold(s.lastPercent, t.opts.Thresholds)
	logger := t.logger.With(logging.JobID(s.jobID))
	logging.WarnWithContext(logger, "job appears stuck", "tracker_job_stuck",
		logging.Percent(s.lastPercent),
		logging.Stage(s.lastStage),
		logging.Duration("unchanged", unchanged),
		logging.Duration("threshold", threshold),
		logging.Impact("progress display is frozen"),
		logging.Hint("wait, cancel, or retry the job"),
	)

	report := StuckReport{
		JobID:     s.jobID,
		Percent:   s.lastPercent,
		Stage:     s.lastStage,
		Unchanged: unchanged,
		Threshold: threshold,
	}
	if s.lastPercent >= t.opts.NearCompletePercent {
		rctx, done := t.request(ctx)
		info, err := t.transport.Output(rctx, s.jobID)
		done()
		if err != nil {
			logger.Info("output existence check failed", logging.Error(err))
		} else {
			report.Output = &info
			if info.Exists && info.Size > 0 {
				verified := status
				verified.Status = string(job.StatusCompleted)
				verified.Percent = 100
				verified.OutputPath = info.Path
				verified.ErrorMessage = ""
				logger.Info("output artifact found for stuck job; treating as completed",
					logging.EventType("tracker_output_verified"),
					logging.String("output_path", info.Path),
					logging.Int64("size_bytes", info.Size),
				)
				t.setState(s, StateTerminal, verified)
				return Result{JobID: s.jobID, Status: verified, State: StateTerminal, Verified: true}, true, nil
			}
		}
	}

	action := ActionWait
	if t.decider != nil {
		action = t.decider.Decide(ctx, report)
	}
	logger.Info("stuck job decision", logging.String("action", action.String()))

	switch action {
	case ActionCancel:
		resp, err := t.cancel(ctx, s.jobID)
		if err != nil {
			return Result{JobID: s.jobID, Status: status, State: StateStuck}, true, fmt.Errorf("cancel stuck job: %w", err)
		}
		if !resp.Applied {
			return t.cancelRefused(ctx, s, status, resp)
		}
		status.Status = string(job.StatusCancelled)
		t.setState(s, StateTerminal, status)
		return Result{JobID: s.jobID, Status: status, State: StateTerminal}, true, ErrJobCancelled
	case ActionRetry:
		if !status.IsTerminal() {
			if _, err := t.cancel(ctx, s.jobID); err != nil {
				return Result{JobID: s.jobID, Status: status, State: StateStuck}, true, fmt.Errorf("cancel before retry: %w", err)
			}
			settled, err := t.awaitTerminal(ctx, s.jobID)
			if err != nil {
				return Result{JobID: s.jobID, Status: status, State: StateStuck}, true, fmt.Errorf("cancel before retry: %w", err)
			}
			status = settled
		}
		rctx, done := t.request(ctx)
		next, err := t.transport.Retry(rctx, s.jobID)
		done()
		if err != nil {
			return Result{JobID: s.jobID, Status: status, State: StateStuck}, true, fmt.Errorf("retry stuck job: %w", err)
		}
		t.setState(s, StateTerminal, status)
		return Result{JobID: s.jobID, Status: status, State: StateTerminal, RetryJobID: next.JobID}, true, ErrRetryRequested
	default:
		s.lastChange = t.now()
		s.stuck = false
		t.setState(s, StatePolling, status)
		return Result{}, false, nil
	}
}

// cancelRefused handles a cancel the server did not apply because the job
// had already moved on. The job's own terminal state wins; anything that does
// not settle resumes polling.
func (t *Tracker) cancelRefused(ctx context.Context, s *session, status api.JobStatus, resp api.CancelResponse) (Result, bool, error) {
	logger := t.logger.With(logging.JobID(s.jobID))
	logger.Info("cancel not applied", logging.String("reported_status", resp.Status))
	current := status
	if resp.Status != "" {
		current.Status = resp.Status
	}
	if fresh, err := t.status(ctx, s.jobID); err == nil {
		current = fresh
	} else if ctx.Err() != nil {
		return Result{JobID: s.jobID, Status: current, State: StateStuck}, true, ctx.Err()
	}
	s.observe(current, t.now())
	t.notify(s, current)
	if o := t.settle(s, current); o != nil {
		t.setState(s, StateTerminal, o.result.Status)
		return o.result, true, o.err
	}
	s.lastChange = t.now()
	s.stuck = false
	t.setState(s, StatePolling, current)
	return Result{}, false, nil
}

// request bounds a single control request to RequestTimeout.
func (t *Tracker) request(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.opts.RequestTimeout)
}

func (t *Tracker) status(ctx context.Context, id string) (api.JobStatus, error) {
	rctx, done := t.request(ctx)
	defer done()
	return t.transport.Status(rctx, id)
}

func (t *Tracker) cancel(ctx context.Context, id string) (api.CancelResponse, error) {
	rctx, done := t.request(ctx)
	defer done()
	return t.transport.Cancel(rctx, id)
}

// awaitTerminal polls until a cancelled job settles, for at most twice the
// maximum poll interval.
func (t *Tracker) awaitTerminal(ctx context.Context, id string) (api.JobStatus, error) {
	deadline := time.NewTimer(2 * t.opts.MaxPoll)
	defer deadline.Stop()
	ticker := time.NewTicker(t.opts.MinPoll)
	defer ticker.Stop()
	for {
		status, err := t.status(ctx, id)
		if err == nil && status.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return api.JobStatus{}, ctx.Err()
		case <-deadline.C:
			return api.JobStatus{}, fmt.Errorf("job %s did not settle after cancellation", id)
		case <-ticker.C:
		}
	}
}
