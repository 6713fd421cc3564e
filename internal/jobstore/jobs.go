package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "id, topic, output_dir, job_file, status, failed_step, error_message, context_json, created_at, updated_at, started_at, finished_at"

// Create inserts a job in the initialized state.
func (s *Store) Create(ctx context.Context, job Job) (*Job, error) {
	if strings.TrimSpace(job.ID) == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	timestamp := formatTime(job.CreatedAt)

	_, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, topic, output_dir, job_file, status, context_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Topic,
		job.OutputDir,
		nullableString(job.JobFile),
		StatusInitialized,
		nullableString(job.ContextJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%s: %w", job.ID, ErrJobExists)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, job.ID)
}

// Get fetches a job by id. It returns ErrJobNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Transition moves a job to status to. The update only applies when the job
// is still in a state that permits the move, so concurrent writers cannot
// resurrect a terminal job.
func (s *Store) Transition(ctx context.Context, id string, to Status, opts TransitionOptions) (*Job, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s for job %s", ErrInvalidTransition, current.Status, to, id)
	}

	at := opts.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var startedAt, finishedAt any
	switch to {
	case StatusRunning:
		startedAt = formatTime(at)
	case StatusCompleted, StatusFailed:
		finishedAt = formatTime(at)
	}

	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, updated_at = ?,
             started_at = COALESCE(?, started_at),
             finished_at = COALESCE(?, finished_at),
             failed_step = COALESCE(?, failed_step),
             error_message = COALESCE(?, error_message),
             context_json = COALESCE(?, context_json)
         WHERE id = ? AND status = ?`,
		to,
		formatTime(at),
		startedAt,
		finishedAt,
		nullableString(opts.FailedStep),
		nullableString(opts.ErrorMessage),
		nullableString(opts.ContextJSON),
		id,
		current.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("transition job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: job %s changed concurrently", ErrInvalidTransition, id)
	}
	return s.Get(ctx, id)
}

// Remove deletes a job and its step runs.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	if _, err := s.execWithRetry(ctx, `DELETE FROM step_runs WHERE job_id = ?`, id); err != nil {
		return false, fmt.Errorf("remove step runs: %w", err)
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		status       string
		jobFile      sql.NullString
		failedStep   sql.NullString
		errorMessage sql.NullString
		contextJSON  sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Topic,
		&job.OutputDir,
		&jobFile,
		&status,
		&failedStep,
		&errorMessage,
		&contextJSON,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.JobFile = jobFile.String
	job.FailedStep = failedStep.String
	job.ErrorMessage = errorMessage.String
	job.ContextJSON = contextJSON.String
	if t := parseTime(createdRaw); t != nil {
		job.CreatedAt = *t
	}
	if t := parseTime(updatedRaw); t != nil {
		job.UpdatedAt = *t
	}
	job.StartedAt = parseTime(startedRaw)
	job.FinishedAt = parseTime(finishedRaw)
	return &job, nil
}
