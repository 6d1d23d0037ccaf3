package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"remindtab/internal/core"
)

var ErrRunNotFound = core.ErrRunNotFound

// RecordRun stores a delivery, updates the task's last run fields and prunes
// deliveries beyond the retention limit. A nil errMsg records a success.
func (s *Store) RecordRun(ctx context.Context, taskID string, at time.Time, errMsg *string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET last_run_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, at.UTC().Format(time.RFC3339Nano), nullableString(errMsg), now(), taskID)
	if err != nil {
		return fmt.Errorf("update last run: %w", err)
	}
	if err := expectRow(res, "update last run"); err != nil {
		return err
	}

	status := core.RunStatusSucceeded
	if errMsg != nil {
		status = core.RunStatusFailed
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, status, ran_at, error)
		VALUES (?, ?, ?, ?, ?)
	`, core.NewID(), taskID, status, at.UTC().Format(time.RFC3339Nano), nullableString(errMsg)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM runs WHERE task_id = ? ORDER BY ran_at DESC LIMIT ?
		)
	`, taskID, taskID, s.RunRetention); err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, status, ran_at, error
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns a task's deliveries, newest first.
func (s *Store) ListRuns(ctx context.Context, taskID string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, status, ran_at, error
		FROM runs
		WHERE task_id = ?
		ORDER BY ran_at DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		run    core.Run
		status string
		ranAt  string
		errMsg sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.TaskID, &status, &ranAt, &errMsg); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = core.RunStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, ranAt); err == nil {
		run.RanAt = t
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}
