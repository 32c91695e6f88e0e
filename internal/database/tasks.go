package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scrapeq/internal/models"
)

const taskColumns = `id, task_type, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

// CreateTask inserts task and fills in its ID and CreatedAt.
func (db *DB) CreateTask(ctx context.Context, task *models.TaskRecord) error {
	query := `INSERT INTO tasks (task_type, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

// GetTask returns the record with the given id.
func (db *DB) GetTask(ctx context.Context, id int64) (*models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return task, nil
}

// NextPendingTask returns the pending task with the lowest id that is due at now.
func (db *DB) NextPendingTask(ctx context.Context, now time.Time) (*models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + `
              FROM tasks
              WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY id ASC LIMIT 1`
	task, err := scanTask(db.QueryRowContext(ctx, query, models.TaskPending, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next pending task: %w", err)
	}
	return task, nil
}

// CountTasks counts records in the given status.
func (db *DB) CountTasks(ctx context.Context, status models.TaskStatus) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(id) FROM tasks WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// CountTasksByStatus returns the number of records per status.
func (db *DB) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(id) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := map[models.TaskStatus]int{
		models.TaskPending: 0,
		models.TaskDone:    0,
		models.TaskFailed:  0,
	}
	for rows.Next() {
		var status models.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// MarkTaskDone moves a pending task to done. Marking a done task again is a no-op.
func (db *DB) MarkTaskDone(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE tasks SET status = ?, processed_at = ?, next_retry_at = NULL WHERE id = ? AND status = ?`
	return db.transition(ctx, id, models.TaskDone, query, models.TaskDone, at.UTC(), id, models.TaskPending)
}

// MarkTaskFailed moves a pending task to failed and records the cause.
func (db *DB) MarkTaskFailed(ctx context.Context, id int64, errMsg string, at time.Time) error {
	query := `UPDATE tasks SET status = ?, last_error = ?, processed_at = ?, next_retry_at = NULL WHERE id = ? AND status = ?`
	return db.transition(ctx, id, models.TaskFailed, query, models.TaskFailed, errMsg, at.UTC(), id, models.TaskPending)
}

// ScheduleTaskRetry keeps the task pending, bumps its retry count and delays it until next.
func (db *DB) ScheduleTaskRetry(ctx context.Context, id int64, errMsg string, next time.Time) error {
	query := `UPDATE tasks SET last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, errMsg, next.UTC(), id, models.TaskPending)
	if err != nil {
		return fmt.Errorf("failed to schedule task retry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to schedule task retry: %w", err)
	}
	if affected == 0 {
		if _, err := db.GetTask(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("retry task %d: %w", id, models.ErrInvalidTransition)
	}
	return nil
}

// GetFailedTasks lists failed tasks, newest first.
func (db *DB) GetFailedTasks(ctx context.Context) ([]models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY id DESC`
	rows, err := db.QueryContext(ctx, query, models.TaskFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// transition runs a guarded status update. When no row changed it tells apart
// a missing record, a record already in the target status and a forbidden move.
func (db *DB) transition(ctx context.Context, id int64, target models.TaskStatus, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark task %d %s: %w", id, target, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark task %d %s: %w", id, target, err)
	}
	if affected > 0 {
		return nil
	}

	current, err := db.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == target {
		return nil
	}
	return fmt.Errorf("task %d is %s, cannot mark %s: %w", id, current.Status, target, models.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.TaskRecord, error) {
	var t models.TaskRecord
	err := row.Scan(
		&t.ID, &t.TaskType, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
