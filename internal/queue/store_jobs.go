package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

// Enqueue inserts a queued job for the submission bundle.
func (s *Store) Enqueue(ctx context.Context, spec job.Spec) (*Job, error) {
	return s.insert(ctx, spec, 1, "")
}

func (s *Store) insert(ctx context.Context, spec job.Spec, attempt int, retryOf string) (*Job, error) {
	spec.Source = strings.TrimSpace(spec.Source)
	if spec.Source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidSpec)
	}
	id := uuid.NewString()
	timestamp := formatTime(time.Now())

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, label, source_path, output_dir, preset, priority, status,
            progress_percent, attempt, retry_of, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		id,
		nullableString(strings.TrimSpace(spec.Label)),
		spec.Source,
		nullableString(strings.TrimSpace(spec.OutputDir)),
		nullableString(strings.TrimSpace(spec.Preset)),
		spec.Priority,
		job.StatusQueued,
		attempt,
		nullableString(retryOf),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Requeue creates a fresh attempt for a failed or cancelled job. The original
// row is left untouched.
func (s *Store) Requeue(ctx context.Context, id string) (*Job, error) {
	original, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, ErrNotFound
	}
	if original.Status != job.StatusFailed && original.Status != job.StatusCancelled {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, original.Status)
	}
	return s.insert(ctx, original.Spec(), original.Attempt+1, original.ID)
}

// GetByID fetches a job by identifier. A missing job yields (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	item, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return item, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided) in submission order.
func (s *Store) List(ctx context.Context, statuses ...job.Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListRunning returns every job currently marked running.
func (s *Store) ListRunning(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, job.StatusRunning)
}

// ClaimNext atomically moves the highest-priority, oldest queued job to
// running and returns it. A nil job means nothing is queued.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	ctx = ensureContext(ctx)
	timestamp := formatTime(now)
	var claimed *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE jobs
             SET status = ?, started_at = ?, updated_at = ?, last_progress_at = ?, last_heartbeat = ?
             WHERE id = (
                 SELECT id FROM jobs WHERE status = ? ORDER BY priority DESC, seq ASC LIMIT 1
             ) AND status = ?
             RETURNING `+jobColumns,
			job.StatusRunning,
			timestamp,
			timestamp,
			timestamp,
			timestamp,
			job.StatusQueued,
			job.StatusQueued,
		)
		item, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return nil
		}
		if err != nil {
			return err
		}
		claimed = item
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return claimed, nil
}
