package queue

import (
	"database/sql"
	"errors"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

const jobColumns = "id, label, source_path, output_dir, preset, priority, status, progress_stage, progress_percent, progress_message, output_path, error_message, attempt, retry_of, created_at, updated_at, started_at, completed_at, last_progress_at, last_heartbeat"

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		label           sql.NullString
		sourcePath      string
		outputDir       sql.NullString
		preset          sql.NullString
		priority        int
		statusStr       string
		progressStage   sql.NullString
		progressPercent sql.NullInt64
		progressMessage sql.NullString
		outputPath      sql.NullString
		errorMessage    sql.NullString
		attempt         sql.NullInt64
		retryOf         sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		startedRaw      sql.NullString
		completedRaw    sql.NullString
		progressAtRaw   sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&label,
		&sourcePath,
		&outputDir,
		&preset,
		&priority,
		&statusStr,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&outputPath,
		&errorMessage,
		&attempt,
		&retryOf,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&progressAtRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	item := &Job{
		ID:              id,
		Label:           label.String,
		SourcePath:      sourcePath,
		OutputDir:       outputDir.String,
		Preset:          preset.String,
		Priority:        priority,
		Status:          job.Status(statusStr),
		ProgressStage:   progressStage.String,
		ProgressPercent: int(progressPercent.Int64),
		ProgressMessage: progressMessage.String,
		OutputPath:      outputPath.String,
		ErrorMessage:    errorMessage.String,
		Attempt:         int(attempt.Int64),
		RetryOf:         retryOf.String,
		StartedAt:       parseNullableTime(startedRaw),
		CompletedAt:     parseNullableTime(completedRaw),
		LastProgressAt:  parseNullableTime(progressAtRaw),
		LastHeartbeat:   parseNullableTime(heartbeatRaw),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		item, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, item)
	}
	return jobs, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
