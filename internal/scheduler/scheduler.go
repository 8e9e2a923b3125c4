// Package scheduler runs the pipeline on stored schedules. Every tick it
// claims due schedule_settings rows, spawns the claimed tasks with an
// optional timeout and recomputes next_run in the task's timezone. A
// periodic sweep clears running flags left behind by crashed instances, and
// ad hoc rows from task_queue are drained alongside the scheduled work.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	"github.com/lueurxax/newspipe/internal/platform/schedule"
	"github.com/lueurxax/newspipe/internal/platform/worker"
	db "github.com/lueurxax/newspipe/internal/storage"
)

const (
	workerName         = "scheduler"
	stuckCheckInterval = 10 * time.Minute

	// failedSpecRetryDelay spaces out retries when a stored schedule spec
	// cannot produce a next run; it keeps a broken row from refiring every
	// tick.
	failedSpecRetryDelay = time.Hour

	statusSuccess = "success"
	statusError   = "error"

	logFieldTask   = "task"
	logFieldTaskID = "task_id"
)

// Runner is the pipeline surface the scheduler drives.
type Runner interface {
	RunDigest(ctx context.Context) error
	RunProcessing(ctx context.Context) error
}

// Store is the storage surface the scheduler depends on.
type Store interface {
	EnsureScheduleDefaults(ctx context.Context) error
	ListScheduleSettings(ctx context.Context) ([]db.ScheduleSetting, error)
	TryStartTask(ctx context.Context, task string, now time.Time) (bool, error)
	FinishTask(ctx context.Context, task string, nextRun time.Time) error
	SetNextRun(ctx context.Context, task string, nextRun time.Time) error
	ResetStuckTasks(ctx context.Context, cutoff time.Time) ([]string, error)

	ClaimPendingTask(ctx context.Context) (*db.Task, error)
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id, msg string) error
}

var _ Store = (*db.DB)(nil)

type taskFunc func(ctx context.Context) error

// taskConfig is the per-task slice of the task_config JSON the scheduler
// understands.
type taskConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Scheduler claims and executes scheduled and queued tasks.
type Scheduler struct {
	cfg     *config.Config
	store   Store
	runners map[string]taskFunc
	logger  *zerolog.Logger

	wg sync.WaitGroup
}

// New creates a scheduler executing the configured task set.
func New(cfg *config.Config, store Store, runner Runner, logger *zerolog.Logger) *Scheduler {
	runners := make(map[string]taskFunc)

	for _, task := range cfg.SchedulerEnabledTasks() {
		switch task {
		case domain.TaskNewsDigest:
			runners[task] = runner.RunDigest
		case domain.TaskNewsProcessing:
			runners[task] = runner.RunProcessing
		}
	}

	return &Scheduler{
		cfg:     cfg,
		store:   store,
		runners: runners,
		logger:  logger,
	}
}

// Run drives the scheduler loop until ctx is canceled. In-flight tasks are
// waited for before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	return worker.Loop(ctx, worker.Config{
		Name:         workerName,
		PollInterval: s.cfg.SchedulerCheckInterval(),
		Process:      s.tick,
		PeriodicTasks: []worker.PeriodicTask{
			{Name: "stuck task reset", Interval: stuckCheckInterval, Run: s.resetStuck},
		},
		OnStart: s.seedDefaults,
		OnError: func(err error) bool {
			s.logger.Error().Err(err).Msg("scheduler tick failed")
			return true
		},
		Logger: s.logger,
	})
}

func (s *Scheduler) seedDefaults(ctx context.Context) {
	if err := s.store.EnsureScheduleDefaults(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("failed to seed schedule defaults")
	}
}

// tick is one scheduler pass: start due scheduled tasks, then drain the ad
// hoc queue.
func (s *Scheduler) tick(ctx context.Context) error {
	now := time.Now().UTC()

	settings, err := s.store.ListScheduleSettings(ctx)
	if err != nil {
		return fmt.Errorf("list schedule settings: %w", err)
	}

	for i := range settings {
		s.maybeStart(ctx, settings[i], now)
	}

	s.drainQueue(ctx)

	return nil
}

// maybeStart claims and spawns one scheduled task when it is due. A missing
// next_run is backfilled without running, so freshly seeded rows wait for
// their first scheduled slot.
func (s *Scheduler) maybeStart(ctx context.Context, setting db.ScheduleSetting, now time.Time) {
	if !setting.Enabled || setting.IsRunning {
		return
	}

	_, ok := s.runners[setting.TaskName]
	if !ok {
		return
	}

	if setting.NextRun == nil {
		next, err := nextRun(&setting, now)
		if err != nil {
			s.logger.Error().Err(err).Str(logFieldTask, setting.TaskName).Msg("invalid schedule spec")
			return
		}

		if err := s.store.SetNextRun(ctx, setting.TaskName, next); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Str(logFieldTask, setting.TaskName).Msg("failed to backfill next run")
		}

		return
	}

	if now.Before(*setting.NextRun) {
		return
	}

	claimed, err := s.store.TryStartTask(ctx, setting.TaskName, now)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str(logFieldTask, setting.TaskName).Msg("task claim failed")
		}

		return
	}

	if !claimed {
		return
	}

	s.spawnScheduled(ctx, setting)
}

// spawnScheduled runs a claimed task in the background and always clears
// the running flag with a recomputed next_run, whatever the task outcome.
func (s *Scheduler) spawnScheduled(ctx context.Context, setting db.ScheduleSetting) {
	task := setting.TaskName
	run := s.runners[task]
	timeout := s.taskTimeout(setting.TaskConfig)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer worker.RecoverPanic(s.logger, "scheduled task "+task)

		logger := s.logger.With().Str(logFieldTask, task).Logger()
		logger.Info().Msg("scheduled task started")

		err := s.execute(ctx, task, run, timeout)

		switch {
		case err == nil:
			logger.Info().Msg("scheduled task finished")
		case ctx.Err() != nil:
			logger.Info().Msg("scheduled task canceled")
		default:
			logger.Error().Err(err).Msg("scheduled task failed")
		}

		next, nerr := nextRun(&setting, time.Now().UTC())
		if nerr != nil {
			logger.Error().Err(nerr).Msg("cannot compute next run")

			next = time.Now().UTC().Add(failedSpecRetryDelay)
		}

		if ferr := s.store.FinishTask(ctx, task, next); ferr != nil && ctx.Err() == nil {
			logger.Error().Err(ferr).Msg("failed to clear running flag")
		}
	}()
}

// drainQueue claims pending ad hoc tasks until the queue is empty.
func (s *Scheduler) drainQueue(ctx context.Context) {
	for {
		task, err := s.store.ClaimPendingTask(ctx)
		if err != nil {
			if !errors.Is(err, db.ErrNoPendingTask) && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("task queue claim failed")
			}

			return
		}

		s.spawnQueued(ctx, task)
	}
}

// spawnQueued runs one claimed task_queue row in the background and records
// its outcome on the row.
func (s *Scheduler) spawnQueued(ctx context.Context, task *db.Task) {
	logger := s.logger.With().
		Str(logFieldTask, task.Type).
		Str(logFieldTaskID, task.ID).
		Logger()

	run, ok := s.runners[task.Type]
	if !ok {
		logger.Warn().Msg("unknown queued task type")

		if err := s.store.FailTask(ctx, task.ID, "unknown task type "+task.Type); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("failed to record task failure")
		}

		return
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer worker.RecoverPanic(s.logger, "queued task "+task.Type)

		logger.Info().Msg("queued task started")

		if err := s.execute(ctx, task.Type, run, s.cfg.SchedulerTaskTimeout()); err != nil {
			logger.Error().Err(err).Msg("queued task failed")

			if ferr := s.store.FailTask(ctx, task.ID, err.Error()); ferr != nil && ctx.Err() == nil {
				logger.Warn().Err(ferr).Msg("failed to record task failure")
			}

			return
		}

		logger.Info().Msg("queued task finished")

		if cerr := s.store.CompleteTask(ctx, task.ID); cerr != nil && ctx.Err() == nil {
			logger.Warn().Err(cerr).Msg("failed to record task completion")
		}
	}()
}

// execute runs one task with the metrics every execution shares. A zero
// timeout runs unbounded.
func (s *Scheduler) execute(ctx context.Context, name string, run taskFunc, timeout time.Duration) error {
	start := time.Now()

	var err error
	if timeout > 0 {
		err = worker.RunWithTimeout(ctx, timeout, run)
	} else {
		err = run(ctx)
	}

	observability.SchedulerTaskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	observability.SchedulerTaskRuns.WithLabelValues(name, status).Inc()

	return err
}

// resetStuck force-clears running flags older than the stuck threshold.
// Crashed instances leave them behind and they would block scheduling
// forever.
func (s *Scheduler) resetStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.SchedulerStuckHours) * time.Hour)

	tasks, err := s.store.ResetStuckTasks(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("stuck task sweep failed")
		}

		return
	}

	for _, task := range tasks {
		observability.SchedulerStuckResets.Inc()
		s.logger.Warn().Str(logFieldTask, task).Msg("cleared stuck running flag")
	}
}

// taskTimeout resolves the effective timeout: task_config override first,
// then the global default.
func (s *Scheduler) taskTimeout(raw json.RawMessage) time.Duration {
	timeout := s.cfg.SchedulerTaskTimeout()

	if len(raw) > 0 {
		var tc taskConfig
		if err := json.Unmarshal(raw, &tc); err == nil && tc.TimeoutSeconds > 0 {
			timeout = time.Duration(tc.TimeoutSeconds) * time.Second
		}
	}

	return timeout
}

func nextRun(setting *db.ScheduleSetting, after time.Time) (time.Time, error) {
	spec := schedule.Spec{
		Type:     setting.ScheduleType,
		Hour:     setting.Hour,
		Minute:   setting.Minute,
		Weekdays: setting.Weekdays,
		Timezone: setting.Timezone,
	}

	return spec.NextRun(after)
}
