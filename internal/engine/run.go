package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/encoder"
	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/services"
)

type outcome struct {
	status     job.Status
	outputPath string
	message    string
}

func (e *Engine) run(ctx context.Context, exec *execution) {
	defer e.wg.Done()
	id := exec.rec.ID
	logger := logging.WithContext(ctx, e.logger)

	var hbWG sync.WaitGroup
	hbCtx, stopHeartbeat := context.WithCancel(ctx)

	result := outcome{status: job.StatusFailed}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.EventType("job_panic"),
				logging.Hint("report the stack trace"),
			)
			result = outcome{status: job.StatusFailed, message: fmt.Sprintf("job panicked: %v", r)}
		}
		stopHeartbeat()
		hbWG.Wait()
		exec.cancel(nil)
		e.finish(exec, result, logger)
	}()

	if e.persist != nil && e.limits.HeartbeatInterval > 0 {
		hbWG.Add(1)
		go e.heartbeatLoop(hbCtx, &hbWG, id, logger)
	}

	result = e.execute(ctx, exec, logger)
}

func (e *Engine) execute(ctx context.Context, exec *execution, logger *slog.Logger) outcome {
	runCtx := ctx
	if e.limits.JobTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(ctx, e.limits.JobTimeout, errJobTimeout)
		defer stop()
	}

	req := encoder.Request{
		JobID:     exec.rec.ID,
		Source:    exec.rec.Spec.Source,
		OutputDir: exec.rec.Spec.OutputDir,
		Preset:    exec.rec.Spec.Preset,
	}

	e.applyProgress(runCtx, exec, logger, -1, "Initializing", "preparing encoder")
	if err := e.prepare(runCtx, req); err != nil {
		return e.classify(runCtx, "initialization", err)
	}

	sampler := logging.NewProgressSampler(5)
	outputPath, err := e.encoder.Encode(runCtx, req, func(update encoder.Update) {
		percent := -1
		if update.Percent >= 0 {
			percent = int(math.Floor(update.Percent))
		}
		stage := encoder.FormatStage(update.Stage)
		message := encoder.MessageText(update)
		if sampler.ShouldLog(percent, stage) {
			logger.Info("job progress",
				logging.Percent(percent),
				logging.Stage(stage),
				logging.String("message", message),
			)
		}
		e.applyProgress(runCtx, exec, logger, percent, stage, message)
	})
	if err != nil {
		return e.classify(runCtx, "encode", err)
	}
	if cause := context.Cause(runCtx); cause != nil {
		return e.classify(runCtx, "encode", cause)
	}

	e.applyProgress(runCtx, exec, logger, -1, "Verifying", "verifying output artifact")
	if err := e.verifyOutput(outputPath); err != nil {
		logging.WarnWithContext(logger, "output verification failed", "output_verification_failed",
			logging.Error(err),
			logging.Hint("inspect the encoder log and output directory"),
			logging.Impact("job marked failed"),
		)
		return outcome{status: job.StatusFailed, message: err.Error()}
	}
	return outcome{status: job.StatusCompleted, outputPath: outputPath}
}

func (e *Engine) prepare(ctx context.Context, req encoder.Request) error {
	if e.limits.InitTimeout <= 0 {
		return e.encoder.Prepare(ctx, req)
	}
	initCtx, cancel := context.WithTimeoutCause(ctx, e.limits.InitTimeout,
		fmt.Errorf("initialization exceeded %s: %w", e.limits.InitTimeout, services.ErrTimeout))
	defer cancel()
	err := e.encoder.Prepare(initCtx, req)
	if err != nil && ctx.Err() == nil && initCtx.Err() != nil {
		return context.Cause(initCtx)
	}
	return err
}

// classify maps an execution error to a terminal outcome. An explicit cancel
// wins over every other cause.
func (e *Engine) classify(ctx context.Context, step string, err error) outcome {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errCancelRequested):
		return outcome{status: job.StatusCancelled, message: "cancelled by request"}
	case errors.Is(cause, errJobTimeout):
		return outcome{status: job.StatusFailed, message: fmt.Sprintf("job exceeded timeout of %s", e.limits.JobTimeout)}
	case cause != nil:
		return outcome{status: job.StatusFailed, message: fmt.Sprintf("%s interrupted: %v", step, cause)}
	}
	return outcome{status: services.FailureStatus(err), message: fmt.Sprintf("%s failed: %v", step, err)}
}

func (e *Engine) verifyOutput(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("encoder returned no output path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output artifact %s not found: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("output artifact %s is a directory", path)
	}
	if info.Size() < e.limits.MinOutputBytes {
		return fmt.Errorf("output artifact %s is %d bytes, expected at least %d", path, info.Size(), e.limits.MinOutputBytes)
	}
	return nil
}

// applyProgress updates the authoritative record. A negative percent keeps
// the previous value.
func (e *Engine) applyProgress(ctx context.Context, exec *execution, logger *slog.Logger, percent int, stage, message string) {
	now := e.now()

	e.mu.Lock()
	if exec.rec.IsTerminal() {
		e.mu.Unlock()
		return
	}
	prev := exec.rec.Percent
	if percent >= 0 {
		exec.rec.Percent = job.ClampPercent(percent)
	}
	if stage != "" {
		exec.rec.Stage = stage
	}
	if message != "" {
		exec.rec.Message = message
	}
	exec.rec.UpdatedAt = now
	rec := exec.rec
	listener := e.listener
	e.mu.Unlock()

	if percent >= 0 && percent < prev {
		logger.Debug("encoder progress moved backwards",
			logging.Int("previous_percent", prev),
			logging.Percent(percent),
			logging.Stage(rec.Stage),
		)
	}
	if e.persist != nil {
		if err := e.persist.UpdateProgress(ctx, rec.ID, rec.Percent, rec.Stage, rec.Message, now); err != nil && ctx.Err() == nil {
			logger.Warn("persist progress failed",
				logging.Error(err),
				logging.EventType("progress_persist_failed"),
				logging.Hint("check queue database access"),
			)
		}
	}
	if listener != nil {
		listener.JobProgress(rec)
	}
}

func (e *Engine) finish(exec *execution, result outcome, logger *slog.Logger) {
	now := e.now()
	status, outputPath, message, rewritten := job.Resolve(result.status, result.outputPath, result.message)

	e.mu.Lock()
	exec.rec.Status = status
	exec.rec.OutputPath = outputPath
	exec.rec.ErrorMessage = message
	exec.rec.CompletedAt = now
	exec.rec.UpdatedAt = now
	if status == job.StatusCompleted {
		exec.rec.Percent = 100
	}
	rec := exec.rec
	e.active--
	listener := e.listener
	e.mu.Unlock()
	defer close(exec.done)

	if rewritten {
		logging.WarnWithContext(logger, "completion without output rewritten to failure", "completion_missing_output",
			logging.Hint("verify the encoder produced an artifact"),
		)
	}

	if e.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		applied, err := e.persist.Finish(ctx, rec.ID, rec.Status, rec.OutputPath, rec.ErrorMessage, now)
		cancel()
		switch {
		case err != nil:
			logger.Error("persist terminal status failed",
				logging.Error(err),
				logging.EventType("terminal_persist_failed"),
				logging.Hint("check queue database access"),
				logging.Impact("persisted record may stay running until swept"),
			)
		case !applied:
			logger.Info("persisted record already terminal",
				logging.EventType("terminal_persist_skipped"),
				logging.String("status", string(rec.Status)),
			)
		}
	}

	attrs := []logging.Attr{
		logging.EventType("job_finished"),
		logging.String("status", string(rec.Status)),
		logging.Duration("elapsed", rec.CompletedAt.Sub(rec.StartedAt)),
	}
	switch rec.Status {
	case job.StatusCompleted:
		logger.Info("job completed", logging.Args(append(attrs, logging.String("output_path", rec.OutputPath))...)...)
	case job.StatusCancelled:
		logger.Info("job cancelled", logging.Args(attrs...)...)
	default:
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			append(attrs, logging.String("error_message", rec.ErrorMessage),
				logging.Hint("see error_message"))...)
	}

	if listener != nil {
		listener.JobFinished(rec)
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, id string, logger *slog.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(e.limits.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.persist.UpdateHeartbeat(ctx, id, e.now()); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
