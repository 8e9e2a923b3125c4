package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/newspipe/internal/core/domain"
)

// Task is an alias for the domain type.
type Task = domain.Task

// ErrTaskNotFound is returned when a task lookup finds no row.
var ErrTaskNotFound = errors.New("task not found")

// ErrNoPendingTask is returned when the queue has nothing claimable.
var ErrNoPendingTask = errors.New("no pending task")

const taskColumns = `id, task_type, task_data, status, priority, attempts, max_attempts,
	created_at, started_at, completed_at, COALESCE(error_message, '')`

// EnqueueTask stores an ad hoc task and returns its handle.
func (db *DB) EnqueueTask(ctx context.Context, taskType string, data json.RawMessage, priority int) (string, error) {
	id := uuid.NewString()

	err := db.queue.Submit(ctx, ShardTasks, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO task_queue (id, task_type, task_data, priority)
			VALUES ($1, $2, $3, $4)`, id, taskType, data, priority)
		if err != nil {
			return fmt.Errorf("enqueue task: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

func (db *DB) GetTask(ctx context.Context, id string) (*Task, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM task_queue WHERE id = $1`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}

		return nil, fmt.Errorf("get task: %w", err)
	}

	return task, nil
}

// ClaimPendingTask atomically claims the highest-priority pending task.
// SKIP LOCKED keeps concurrent claimers from blocking each other.
func (db *DB) ClaimPendingTask(ctx context.Context) (*Task, error) {
	row := db.Pool.QueryRow(ctx, `
		UPDATE task_queue
		SET status = $2, attempts = attempts + 1, started_at = now()
		WHERE id = (
			SELECT id FROM task_queue
			WHERE status = $1
			ORDER BY priority DESC, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		domain.TaskStatusPending, domain.TaskStatusRunning)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPendingTask
		}

		return nil, fmt.Errorf("claim pending task: %w", err)
	}

	return task, nil
}

// CompleteTask marks a task finished.
func (db *DB) CompleteTask(ctx context.Context, id string) error {
	return db.queue.Submit(ctx, ShardTasks, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE task_queue
			SET status = $2, completed_at = now(), error_message = NULL
			WHERE id = $1`, id, domain.TaskStatusCompleted)
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}

		return nil
	})
}

// FailTask records a failure. Tasks with attempts left go back to pending.
func (db *DB) FailTask(ctx context.Context, id, msg string) error {
	return db.queue.Submit(ctx, ShardTasks, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE task_queue
			SET status = CASE WHEN attempts >= max_attempts THEN $2 ELSE $3 END,
				completed_at = CASE WHEN attempts >= max_attempts THEN now() END,
				error_message = $4
			WHERE id = $1`,
			id, domain.TaskStatusFailed, domain.TaskStatusPending, SanitizeUTF8(msg))
		if err != nil {
			return fmt.Errorf("fail task: %w", err)
		}

		return nil
	})
}

// OldestPendingTask returns the creation time of the oldest pending task,
// or ErrNoPendingTask when the queue has none.
func (db *DB) OldestPendingTask(ctx context.Context) (time.Time, error) {
	var created pgtype.Timestamptz

	err := db.Pool.QueryRow(ctx, `
		SELECT MIN(created_at) FROM task_queue WHERE status = $1`,
		domain.TaskStatusPending).Scan(&created)
	if err != nil {
		return time.Time{}, fmt.Errorf("oldest pending task: %w", err)
	}

	if !created.Valid {
		return time.Time{}, ErrNoPendingTask
	}

	return created.Time, nil
}

// CountTasksByStatus returns queue depth per status for metrics.
func (db *DB) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM task_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		task        Task
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)

	err := row.Scan(&task.ID, &task.Type, &task.Data, &task.Status, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &task.CreatedAt, &startedAt, &completedAt,
		&task.ErrorMessage)
	if err != nil {
		return nil, err
	}

	task.StartedAt = fromTimestamptzPtr(startedAt)
	task.CompletedAt = fromTimestamptzPtr(completedAt)

	return &task, nil
}
