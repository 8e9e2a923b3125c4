package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lueurxax/newspipe/internal/platform/schedule"
	db "github.com/lueurxax/newspipe/internal/storage"
)

type scheduleSettingItem struct {
	ID           int64      `json:"id"`
	TaskName     string     `json:"task_name"`
	Enabled      bool       `json:"enabled"`
	ScheduleType string     `json:"schedule_type"`
	Hour         int        `json:"hour"`
	Minute       int        `json:"minute"`
	Weekdays     []int      `json:"weekdays,omitempty"`
	Timezone     string     `json:"timezone"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	IsRunning    bool       `json:"is_running"`
}

type scheduleListResponse struct {
	Settings []scheduleSettingItem `json:"settings"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListScheduleSettings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list schedule settings")
		s.respondError(w, http.StatusInternalServerError, "failed to load schedule settings")

		return
	}

	items := make([]scheduleSettingItem, 0, len(settings))
	for i := range settings {
		items = append(items, toScheduleItem(&settings[i]))
	}

	s.respondJSON(w, http.StatusOK, scheduleListResponse{Settings: items})
}

// scheduleUpdateRequest carries a partial update; nil fields keep the
// stored value.
type scheduleUpdateRequest struct {
	Enabled      *bool   `json:"enabled"`
	ScheduleType *string `json:"schedule_type"`
	Hour         *int    `json:"hour"`
	Minute       *int    `json:"minute"`
	Weekdays     *[]int  `json:"weekdays"`
	Timezone     *string `json:"timezone"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")

	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	setting, err := s.store.GetScheduleSetting(r.Context(), task)
	if err != nil {
		if errors.Is(err, db.ErrScheduleNotFound) {
			s.respondError(w, http.StatusNotFound, "schedule setting not found")

			return
		}

		s.logger.Error().Err(err).Str("task", task).Msg("Failed to load schedule setting")
		s.respondError(w, http.StatusInternalServerError, "failed to load schedule setting")

		return
	}

	applyScheduleUpdate(setting, &req)

	spec := schedule.Spec{
		Type:     setting.ScheduleType,
		Hour:     setting.Hour,
		Minute:   setting.Minute,
		Weekdays: setting.Weekdays,
		Timezone: setting.Timezone,
	}

	if err := spec.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	next, err := spec.NextRun(time.Now().UTC())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	setting.NextRun = &next

	if err := s.store.UpdateScheduleSetting(r.Context(), setting); err != nil {
		if errors.Is(err, db.ErrScheduleNotFound) {
			s.respondError(w, http.StatusNotFound, "schedule setting not found")

			return
		}

		s.logger.Error().Err(err).Str("task", task).Msg("Failed to update schedule setting")
		s.respondError(w, http.StatusInternalServerError, "failed to update schedule setting")

		return
	}

	s.respondJSON(w, http.StatusOK, toScheduleItem(setting))
}

func applyScheduleUpdate(setting *db.ScheduleSetting, req *scheduleUpdateRequest) {
	if req.Enabled != nil {
		setting.Enabled = *req.Enabled
	}

	if req.ScheduleType != nil {
		setting.ScheduleType = *req.ScheduleType
	}

	if req.Hour != nil {
		setting.Hour = *req.Hour
	}

	if req.Minute != nil {
		setting.Minute = *req.Minute
	}

	if req.Weekdays != nil {
		setting.Weekdays = *req.Weekdays
	}

	if req.Timezone != nil {
		setting.Timezone = *req.Timezone
	}
}

func toScheduleItem(s *db.ScheduleSetting) scheduleSettingItem {
	return scheduleSettingItem{
		ID:           s.ID,
		TaskName:     s.TaskName,
		Enabled:      s.Enabled,
		ScheduleType: s.ScheduleType,
		Hour:         s.Hour,
		Minute:       s.Minute,
		Weekdays:     s.Weekdays,
		Timezone:     s.Timezone,
		LastRun:      s.LastRun,
		NextRun:      s.NextRun,
		IsRunning:    s.IsRunning,
	}
}
