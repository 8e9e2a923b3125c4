// Package api serves the HTTP boundary: the public feed, search and
// category endpoints, admin operations behind JWT auth, and the ops
// endpoints (/healthz, /readyz, /metrics).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/migrate"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	db "github.com/lueurxax/newspipe/internal/storage"
)

const (
	requestTimeout    = 60 * time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Store is the slice of the storage layer the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	GetFeed(ctx context.Context, filter db.FeedFilter) ([]db.Article, error)
	SearchArticles(ctx context.Context, filter db.SearchFilter) ([]db.Article, error)
	ListCategoriesWithCounts(ctx context.Context) ([]db.CategoryWithCount, error)
	EnqueueTask(ctx context.Context, taskType string, data json.RawMessage, priority int) (string, error)
	GetTask(ctx context.Context, id string) (*db.Task, error)
	CountTasksByStatus(ctx context.Context) (map[string]int, error)
	OldestPendingTask(ctx context.Context) (time.Time, error)
	ListScheduleSettings(ctx context.Context) ([]db.ScheduleSetting, error)
	GetScheduleSetting(ctx context.Context, task string) (*db.ScheduleSetting, error)
	UpdateScheduleSetting(ctx context.Context, setting *db.ScheduleSetting) error
	ListSources(ctx context.Context, enabledOnly bool) ([]db.Source, error)
	CreateSource(ctx context.Context, src *db.Source) (int64, error)
	GetSource(ctx context.Context, id int64) (*db.Source, error)
	UpsertArticle(ctx context.Context, article *db.Article) (int64, bool, error)
}

var _ Store = (*db.DB)(nil)

// Migrator runs and reports schema migrations.
type Migrator interface {
	Up(ctx context.Context) (*migrate.Result, error)
	Statuses(ctx context.Context) ([]migrate.Status, error)
}

var _ Migrator = (*migrate.Manager)(nil)

// Server is the HTTP API server.
type Server struct {
	cfg      *config.Config
	store    Store
	migrator Migrator
	router   *chi.Mux
	logger   *zerolog.Logger
}

// NewServer builds the router with all routes registered. A nil migrator
// disables the migration endpoints.
func NewServer(cfg *config.Config, store Store, migrator Migrator, logger *zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		migrator: migrator,
		router:   chi.NewRouter(),
		logger:   logger,
	}

	s.routes()

	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Get("/feed", s.handleFeed)
		r.Get("/search", s.handleSearch)
		r.Get("/categories", s.handleCategories)
		r.Get("/sources", s.handleListSources)

		r.Post("/process/run", s.handleProcessRun)
		r.Get("/process/status", s.handleProcessStatus)
		r.Get("/process/tasks/{id}", s.handleTaskStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/migrations/status", s.handleMigrationsStatus)
			r.Post("/migrations/run", s.handleMigrationsRun)
			r.Get("/schedule/settings", s.handleListSchedules)
			r.Put("/schedule/settings/{task}", s.handleUpdateSchedule)
			r.Post("/sources", s.handleCreateSource)
			r.Post("/sources/{id}/push", s.handleSourcePush)
		})
	})
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		//nolint:errcheck,contextcheck // shutdown in signal handler is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.cfg.HTTPPort).Msg("API server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// instrument logs each request and feeds the HTTP metrics, labeled by the
// chi route pattern so path parameters do not explode cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}

		observability.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "DB error: %v", err)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

type errorDetail struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: errorDetail{Status: status, Message: message}})
}

func queryInt(q url.Values, key string, fallback int) int {
	raw := q.Get(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func queryBool(q url.Values, key string) bool {
	switch strings.ToLower(q.Get(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}

	return v
}
