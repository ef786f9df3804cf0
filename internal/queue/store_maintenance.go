package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

// Stats returns job counts grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status job.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		switch status {
		case job.StatusQueued:
			stats.Queued += count
		case job.StatusRunning:
			stats.Running += count
		case job.StatusCompleted:
			stats.Completed += count
		case job.StatusFailed:
			stats.Failed += count
		case job.StatusCancelled:
			stats.Cancelled += count
		}
	}
	return stats, rows.Err()
}

// PurgeTerminalBefore deletes terminal jobs completed before cutoff.
func (s *Store) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.affected(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		job.StatusCompleted,
		job.StatusFailed,
		job.StatusCancelled,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return n, nil
}
