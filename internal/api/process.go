package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	db "github.com/lueurxax/newspipe/internal/storage"
)

type processRunRequest struct {
	Mode string `json:"mode"`
}

type processRunResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// handleProcessRun queues a pipeline run and returns its task handle. The
// scheduler's queue drain picks the row up on the next tick.
func (s *Server) handleProcessRun(w http.ResponseWriter, r *http.Request) {
	var req processRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	var taskType string

	switch req.Mode {
	case "", "process":
		taskType = domain.TaskNewsProcessing
	case "digest":
		taskType = domain.TaskNewsDigest
	default:
		s.respondError(w, http.StatusBadRequest, "mode must be process or digest")

		return
	}

	taskID, err := s.store.EnqueueTask(r.Context(), taskType, nil, 0)
	if err != nil {
		s.logger.Error().Err(err).Str("task_type", taskType).Msg("Failed to enqueue task")
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue task")

		return
	}

	s.respondJSON(w, http.StatusAccepted, processRunResponse{
		TaskID: taskID,
		Status: domain.TaskStatusPending,
	})
}

type processStatusResponse struct {
	Queue            map[string]int `json:"queue"`
	OldestPendingAge float64        `json:"oldest_pending_age_seconds"`
	Timestamp        time.Time      `json:"timestamp"`
}

func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountTasksByStatus(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count tasks")
		s.respondError(w, http.StatusInternalServerError, "failed to load queue status")

		return
	}

	var oldestAge float64

	oldest, err := s.store.OldestPendingTask(r.Context())

	switch {
	case err == nil:
		oldestAge = time.Since(oldest).Seconds()
	case !errors.Is(err, db.ErrNoPendingTask):
		s.logger.Warn().Err(err).Msg("Failed to load oldest pending task")
	}

	observability.QueueOldestAgeSeconds.Set(oldestAge)

	s.respondJSON(w, http.StatusOK, processStatusResponse{
		Queue:            counts,
		OldestPendingAge: oldestAge,
		Timestamp:        time.Now().UTC(),
	})
}

type taskResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"task_type"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			s.respondError(w, http.StatusNotFound, "task not found")

			return
		}

		s.logger.Error().Err(err).Str("task_id", id).Msg("Failed to load task")
		s.respondError(w, http.StatusInternalServerError, "failed to load task")

		return
	}

	s.respondJSON(w, http.StatusOK, taskResponse{
		ID:           task.ID,
		Type:         task.Type,
		Status:       task.Status,
		Attempts:     task.Attempts,
		MaxAttempts:  task.MaxAttempts,
		CreatedAt:    task.CreatedAt,
		StartedAt:    task.StartedAt,
		CompletedAt:  task.CompletedAt,
		ErrorMessage: task.ErrorMessage,
	})
}
