package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const stepColumns = "id, job_id, phase, step, step_index, mode, request_id, status, error_message, patch_keys, started_at, finished_at, duration_ms"

// RecordStepStart inserts a running step row.
func (s *Store) RecordStepStart(ctx context.Context, run StepRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO step_runs (job_id, phase, step, step_index, mode, request_id, status, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID,
		nullableString(run.Phase),
		run.Step,
		run.Index,
		run.Mode,
		run.RequestID,
		StepRunning,
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("record step start: %w", err)
	}
	return nil
}

// RecordStepFinish completes the step row identified by run.RequestID.
func (s *Store) RecordStepFinish(ctx context.Context, run StepRun) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	status := run.Status
	if status == "" {
		status = StepSucceeded
		if run.ErrorMessage != "" {
			status = StepFailed
		}
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE step_runs
         SET status = ?, error_message = ?, patch_keys = ?, finished_at = ?, duration_ms = ?
         WHERE request_id = ?`,
		status,
		nullableString(run.ErrorMessage),
		nullableString(strings.Join(run.PatchKeys, ",")),
		formatTime(finished),
		run.Duration.Milliseconds(),
		run.RequestID,
	)
	if err != nil {
		return fmt.Errorf("record step finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record step finish: no running step with request id %s", run.RequestID)
	}
	return nil
}

// StepRuns returns every step run of jobID in start order.
func (s *Store) StepRuns(ctx context.Context, jobID string) ([]StepRun, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+stepColumns+` FROM step_runs WHERE job_id = ? ORDER BY started_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()

	var runs []StepRun
	for rows.Next() {
		var (
			run        StepRun
			phase      sql.NullString
			status     string
			errMsg     sql.NullString
			patchKeys  sql.NullString
			startedRaw sql.NullString
			finished   sql.NullString
			durationMS sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.JobID, &phase, &run.Step, &run.Index, &run.Mode, &run.RequestID,
			&status, &errMsg, &patchKeys, &startedRaw, &finished, &durationMS); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		run.Phase = phase.String
		run.Status = StepStatus(status)
		run.ErrorMessage = errMsg.String
		if patchKeys.String != "" {
			run.PatchKeys = strings.Split(patchKeys.String, ",")
		}
		if t := parseTime(startedRaw); t != nil {
			run.StartedAt = *t
		}
		run.FinishedAt = parseTime(finished)
		run.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
