package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"remindtab/internal/core"
)

var ErrTaskNotFound = core.ErrTaskNotFound

const taskColumns = `id, name, task_info, status, recurring, next_trigger_at, last_run_at, last_error, created_at, updated_at`

func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	info, err := json.Marshal(task.Info)
	if err != nil {
		return fmt.Errorf("encode task info: %w", err)
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, string(info), task.Status, boolInt(task.Recurring),
		nullableTime(task.NextTriggerAt), nullableTime(task.LastRunAt), nullableString(task.LastError),
		task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTaskInfo replaces the user supplied part of a task.
func (s *Store) UpdateTaskInfo(ctx context.Context, id string, info core.TaskInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode task info: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET name = ?, task_info = ?, recurring = ?, updated_at = ?
		WHERE id = ?
	`, info.Name, string(data), boolInt(info.Schedule.Recurring), now(), id)
	if err != nil {
		return fmt.Errorf("update task info: %w", err)
	}
	return expectRow(res, "update task info")
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectRow(res, "delete task")
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = ?
			ORDER BY created_at DESC
		`, *status)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) ListTasksByStatus(ctx context.Context, status core.TaskStatus) ([]*core.Task, error) {
	return s.ListTasks(ctx, &status)
}

func (s *Store) UpdateTaskSchedule(ctx context.Context, id string, status core.TaskStatus, next *time.Time, reason *string) error {
	var (
		res sql.Result
		err error
	)
	if reason != nil {
		res, err = s.DB.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, next_trigger_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?
		`, status, nullableTime(next), *reason, now(), id)
	} else {
		res, err = s.DB.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, next_trigger_at = ?, updated_at = ?
			WHERE id = ?
		`, status, nullableTime(next), now(), id)
	}
	if err != nil {
		return fmt.Errorf("update task schedule: %w", err)
	}
	return expectRow(res, "update task schedule")
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status core.TaskStatus) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, status, now(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return expectRow(res, "update task status")
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		id        string
		name      string
		info      string
		status    string
		recurring int
		nextRun   sql.NullString
		lastRun   sql.NullString
		lastError sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&id, &name, &info, &status, &recurring, &nextRun, &lastRun, &lastError, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &core.Task{
		ID:            id,
		Name:          name,
		Status:        core.TaskStatus(status),
		Recurring:     recurring != 0,
		NextTriggerAt: parseNullableTime(nextRun),
		LastRunAt:     parseNullableTime(lastRun),
	}
	if err := json.Unmarshal([]byte(info), &task.Info); err != nil {
		return nil, fmt.Errorf("decode task info %s: %w", id, err)
	}
	if lastError.Valid {
		task.LastError = &lastError.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		task.UpdatedAt = t
	}
	return task, nil
}

func expectRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseNullableTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
