package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/schedule"
)

// ScheduleSetting is an alias for the domain type.
type ScheduleSetting = domain.ScheduleSetting

// ErrScheduleNotFound is returned when a task has no schedule row.
var ErrScheduleNotFound = errors.New("schedule setting not found")

const scheduleColumns = `id, task_name, enabled, schedule_type, hour, minute, weekdays,
	timezone, task_config, last_run, next_run, is_running`

// EnsureScheduleDefaults seeds schedule rows for the built-in tasks.
func (db *DB) EnsureScheduleDefaults(ctx context.Context) error {
	defaults := []struct {
		task         string
		scheduleType string
		hour         int
		minute       int
	}{
		{task: domain.TaskNewsDigest, scheduleType: schedule.TypeDaily, hour: 9},
		{task: domain.TaskNewsProcessing, scheduleType: schedule.TypeHourly},
	}

	for _, d := range defaults {
		_, err := db.Pool.Exec(ctx, `
			INSERT INTO schedule_settings (task_name, enabled, schedule_type, hour, minute, timezone)
			VALUES ($1, TRUE, $2, $3, $4, $5)
			ON CONFLICT (task_name) DO NOTHING`,
			d.task, d.scheduleType, d.hour, d.minute, schedule.DefaultTimezone)
		if err != nil {
			return fmt.Errorf("ensure schedule for %s: %w", d.task, err)
		}
	}

	return nil
}

func (db *DB) ListScheduleSettings(ctx context.Context) ([]ScheduleSetting, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedule_settings ORDER BY task_name`)
	if err != nil {
		return nil, fmt.Errorf("list schedule settings: %w", err)
	}
	defer rows.Close()

	var settings []ScheduleSetting

	for rows.Next() {
		s, err := scanScheduleSetting(rows)
		if err != nil {
			return nil, err
		}

		settings = append(settings, *s)
	}

	return settings, rows.Err()
}

func (db *DB) GetScheduleSetting(ctx context.Context, task string) (*ScheduleSetting, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedule_settings WHERE task_name = $1`, task)

	s, err := scanScheduleSetting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}

		return nil, fmt.Errorf("get schedule setting: %w", err)
	}

	return s, nil
}

// UpdateScheduleSetting persists admin edits and the recomputed next run.
func (db *DB) UpdateScheduleSetting(ctx context.Context, s *ScheduleSetting) error {
	weekdays, err := json.Marshal(s.Weekdays)
	if err != nil {
		return fmt.Errorf("marshal weekdays: %w", err)
	}

	return db.queue.Submit(ctx, ShardSchedule, "", func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE schedule_settings
			SET enabled = $2, schedule_type = $3, hour = $4, minute = $5,
				weekdays = $6, timezone = $7, task_config = COALESCE($8, task_config),
				next_run = $9
			WHERE task_name = $1`,
			s.TaskName, s.Enabled, s.ScheduleType, s.Hour, s.Minute,
			weekdays, s.Timezone, s.TaskConfig, toTimestamptzPtr(s.NextRun))
		if err != nil {
			return fmt.Errorf("update schedule setting: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return ErrScheduleNotFound
		}

		return nil
	})
}

// TryStartTask atomically claims a due task. Returns false when another
// instance already runs it or the task is disabled.
func (db *DB) TryStartTask(ctx context.Context, task string, now time.Time) (bool, error) {
	var claimed bool

	err := db.queue.Submit(ctx, ShardSchedule, "", func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE schedule_settings
			SET is_running = TRUE, last_run = $2
			WHERE task_name = $1 AND enabled AND NOT is_running`, task, now)
		if err != nil {
			return fmt.Errorf("try start task: %w", err)
		}

		claimed = tag.RowsAffected() > 0

		return nil
	})

	return claimed, err
}

// FinishTask clears the running flag and stores the next run time.
func (db *DB) FinishTask(ctx context.Context, task string, nextRun time.Time) error {
	return db.queue.Submit(ctx, ShardSchedule, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE schedule_settings
			SET is_running = FALSE, next_run = $2
			WHERE task_name = $1`, task, toTimestamptz(nextRun))
		if err != nil {
			return fmt.Errorf("finish task: %w", err)
		}

		return nil
	})
}

// SetNextRun stores a recomputed next run without touching the running flag.
func (db *DB) SetNextRun(ctx context.Context, task string, nextRun time.Time) error {
	return db.queue.Submit(ctx, ShardSchedule, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE schedule_settings SET next_run = $2 WHERE task_name = $1`,
			task, toTimestamptz(nextRun))
		if err != nil {
			return fmt.Errorf("set next run: %w", err)
		}

		return nil
	})
}

// ResetStuckTasks force-clears running flags older than the cutoff and
// returns the affected task names.
func (db *DB) ResetStuckTasks(ctx context.Context, cutoff time.Time) ([]string, error) {
	var tasks []string

	err := db.queue.Submit(ctx, ShardSchedule, "", func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE schedule_settings
			SET is_running = FALSE
			WHERE is_running AND last_run IS NOT NULL AND last_run < $1
			RETURNING task_name`, cutoff)
		if err != nil {
			return fmt.Errorf("reset stuck tasks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string

			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("scan stuck task: %w", err)
			}

			tasks = append(tasks, name)
		}

		return rows.Err()
	})

	return tasks, err
}

func scanScheduleSetting(row pgx.Row) (*ScheduleSetting, error) {
	var (
		s        ScheduleSetting
		weekdays []byte
		lastRun  pgtype.Timestamptz
		nextRun  pgtype.Timestamptz
	)

	err := row.Scan(&s.ID, &s.TaskName, &s.Enabled, &s.ScheduleType, &s.Hour, &s.Minute,
		&weekdays, &s.Timezone, &s.TaskConfig, &lastRun, &nextRun, &s.IsRunning)
	if err != nil {
		return nil, err
	}

	if len(weekdays) > 0 {
		if err := json.Unmarshal(weekdays, &s.Weekdays); err != nil {
			return nil, fmt.Errorf("unmarshal weekdays: %w", err)
		}
	}

	s.LastRun = fromTimestamptzPtr(lastRun)
	s.NextRun = fromTimestamptzPtr(nextRun)

	return &s, nil
}
