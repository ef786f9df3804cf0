package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

// UpdateProgress records progress for a running job. last_progress_at only
// moves when the percent or stage actually changes.
func (s *Store) UpdateProgress(ctx context.Context, id string, percent int, stage, message string, at time.Time) error {
	timestamp := formatTime(at)
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET last_progress_at = CASE
                 WHEN progress_percent != ? OR IFNULL(progress_stage, '') != ? THEN ?
                 ELSE last_progress_at
             END,
             progress_percent = ?, progress_stage = ?, progress_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		job.ClampPercent(percent),
		stage,
		timestamp,
		job.ClampPercent(percent),
		nullableString(stage),
		nullableString(message),
		timestamp,
		id,
		job.StatusRunning,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// UpdateHeartbeat refreshes the liveness timestamp for a running job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	timestamp := formatTime(at)
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status = ?`,
		timestamp,
		id,
		job.StatusRunning,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// Finish applies a terminal transition to a running job. The transition is
// normalized with job.Resolve first. It reports false when the row was no
// longer running (for example after the sweeper force-failed it).
func (s *Store) Finish(ctx context.Context, id string, status job.Status, outputPath, errorMessage string, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("finish job %s: %s is not terminal", id, status)
	}
	status, outputPath, errorMessage, _ = job.Resolve(status, outputPath, errorMessage)
	timestamp := formatTime(at)
	percentClause := "progress_percent"
	if status == job.StatusCompleted {
		percentClause = "100"
	}
	n, err := s.affected(
		ctx,
		`UPDATE jobs
         SET status = ?, output_path = ?, error_message = ?, completed_at = ?, updated_at = ?,
             progress_percent = `+percentClause+`
         WHERE id = ? AND status = ?`,
		status,
		nullableString(outputPath),
		nullableString(errorMessage),
		timestamp,
		timestamp,
		id,
		job.StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return n > 0, nil
}

// CancelQueued cancels a job that has not been admitted yet.
func (s *Store) CancelQueued(ctx context.Context, id string, at time.Time) (bool, error) {
	timestamp := formatTime(at)
	n, err := s.affected(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		job.StatusCancelled,
		"cancelled before start",
		timestamp,
		timestamp,
		id,
		job.StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("cancel queued job: %w", err)
	}
	return n > 0, nil
}

// ForceFail marks a running job failed, but only if its progress has not
// moved since the caller observed lastActivity. It reports whether the row
// changed.
func (s *Store) ForceFail(ctx context.Context, id, message string, lastActivity, at time.Time) (bool, error) {
	timestamp := formatTime(at)
	n, err := s.affected(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND COALESCE(last_progress_at, started_at, created_at) <= ?`,
		job.StatusFailed,
		message,
		timestamp,
		timestamp,
		id,
		job.StatusRunning,
		formatTime(lastActivity),
	)
	if err != nil {
		return false, fmt.Errorf("force fail job: %w", err)
	}
	return n > 0, nil
}

// FailOrphaned fails every running job. It is used at daemon start, when no
// process can still own a running row.
func (s *Store) FailOrphaned(ctx context.Context, message string, at time.Time) (int64, error) {
	timestamp := formatTime(at)
	n, err := s.affected(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE status = ?`,
		job.StatusFailed,
		message,
		timestamp,
		timestamp,
		job.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail orphaned jobs: %w", err)
	}
	return n, nil
}
