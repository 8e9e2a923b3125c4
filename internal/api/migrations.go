package api

import (
	"net/http"

	"github.com/lueurxax/newspipe/internal/migrate"
)

type migrationsStatusResponse struct {
	Migrations []migrate.Status `json:"migrations"`
	Pending    int              `json:"pending"`
}

func (s *Server) handleMigrationsStatus(w http.ResponseWriter, r *http.Request) {
	if s.migrator == nil {
		s.respondError(w, http.StatusServiceUnavailable, "migrations are not available")

		return
	}

	statuses, err := s.migrator.Statuses(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read migration status")
		s.respondError(w, http.StatusInternalServerError, "failed to read migration status")

		return
	}

	pending := 0

	for _, st := range statuses {
		if !st.Applied || !st.Satisfied {
			pending++
		}
	}

	s.respondJSON(w, http.StatusOK, migrationsStatusResponse{Migrations: statuses, Pending: pending})
}

type migrationsRunResponse struct {
	Applied []int64 `json:"applied"`
	Healed  []int64 `json:"healed"`
	Skipped []int64 `json:"skipped"`
	Error   string  `json:"error,omitempty"`
}

// handleMigrationsRun applies pending migrations. Partial progress is
// reported even when a later migration fails.
func (s *Server) handleMigrationsRun(w http.ResponseWriter, r *http.Request) {
	if s.migrator == nil {
		s.respondError(w, http.StatusServiceUnavailable, "migrations are not available")

		return
	}

	result, err := s.migrator.Up(r.Context())

	resp := migrationsRunResponse{}
	if result != nil {
		resp.Applied = result.Applied
		resp.Healed = result.Healed
		resp.Skipped = result.Skipped
	}

	if err != nil {
		s.logger.Error().Err(err).Msg("Migration run failed")
		resp.Error = err.Error()
		s.respondJSON(w, http.StatusInternalServerError, resp)

		return
	}

	s.respondJSON(w, http.StatusOK, resp)
}
