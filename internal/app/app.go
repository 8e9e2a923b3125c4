// Package app provides the application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// different operational modes:
//
//   - Serve mode: HTTP API for the feed, search, admin operations and ops probes
//   - Process mode: one ingest and analysis cycle, then exit
//   - Digest mode: one full cycle including summaries and digest delivery
//   - Schedule mode: long-running scheduler driving both tasks on stored schedules
//   - Migrate mode: apply pending migrations and exit
//
// Each mode runs migrations first. Serve tolerates a migration failure and
// keeps answering reads in degraded mode; the processing modes do not.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/api"
	"github.com/lueurxax/newspipe/internal/ingest/fetch"
	"github.com/lueurxax/newspipe/internal/ingest/source"
	"github.com/lueurxax/newspipe/internal/llm"
	"github.com/lueurxax/newspipe/internal/migrate"
	"github.com/lueurxax/newspipe/internal/output"
	"github.com/lueurxax/newspipe/internal/output/telegram"
	"github.com/lueurxax/newspipe/internal/output/telegraph"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	"github.com/lueurxax/newspipe/internal/process/categories"
	"github.com/lueurxax/newspipe/internal/process/extract"
	"github.com/lueurxax/newspipe/internal/process/filters"
	"github.com/lueurxax/newspipe/internal/process/memory"
	"github.com/lueurxax/newspipe/internal/process/pipeline"
	"github.com/lueurxax/newspipe/internal/scheduler"
	db "github.com/lueurxax/newspipe/internal/storage"
)

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// RunServe runs the HTTP API mode. Migrations run first; a failure is logged
// and the server starts anyway so reads and the migration endpoints stay
// reachable on a broken schema.
func (a *App) RunServe(ctx context.Context) error {
	a.logger.Info().Msg("Starting serve mode")

	manager := migrate.New(a.database.Pool, a.logger)

	if _, err := manager.Up(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.logger.Error().Err(err).Msg("migrations failed, serving in degraded mode")
	} else if err := a.seedCategories(ctx); err != nil {
		return err
	}

	srv := api.NewServer(a.cfg, a.database, manager, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	return nil
}

// RunProcess runs one ingest and analysis cycle without digest delivery.
func (a *App) RunProcess(ctx context.Context) error {
	a.logger.Info().Msg("Starting process mode")

	if err := a.prepare(ctx); err != nil {
		return err
	}

	p, renderer, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer renderer.Close()

	if err := p.RunProcessing(ctx); err != nil {
		return fmt.Errorf("processing cycle: %w", err)
	}

	return nil
}

// RunDigest runs one full cycle and delivers today's digest.
func (a *App) RunDigest(ctx context.Context) error {
	a.logger.Info().Msg("Starting digest mode")

	if err := a.prepare(ctx); err != nil {
		return err
	}

	p, renderer, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer renderer.Close()

	if err := p.RunDigest(ctx); err != nil {
		return fmt.Errorf("digest cycle: %w", err)
	}

	return nil
}

// RunSchedule runs the scheduler loop, executing tasks on their stored
// schedules and draining ad hoc queue rows. A health and metrics server
// runs alongside since this mode has no API router.
func (a *App) RunSchedule(ctx context.Context) error {
	a.logger.Info().Msg("Starting schedule mode")

	if err := a.prepare(ctx); err != nil {
		return err
	}

	p, renderer, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer renderer.Close()

	go func() {
		if err := observability.NewServer(a.database.Pool, a.cfg.HTTPPort, a.logger).Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("health check server error")
		}
	}()

	sched := scheduler.New(a.cfg, a.database, p, a.logger)

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler run: %w", err)
	}

	return nil
}

// RunMigrate applies pending migrations and reports the outcome.
func (a *App) RunMigrate(ctx context.Context) error {
	a.logger.Info().Msg("Starting migrate mode")

	manager := migrate.New(a.database.Pool, a.logger)

	result, err := manager.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	a.logger.Info().
		Ints64("applied", result.Applied).
		Ints64("healed", result.Healed).
		Ints64("skipped", result.Skipped).
		Msg("Migrations up to date")

	return nil
}

// prepare brings the schema up to date and seeds the category taxonomy the
// processing modes rely on.
func (a *App) prepare(ctx context.Context) error {
	if err := a.database.Migrate(ctx); err != nil {
		return err
	}

	return a.seedCategories(ctx)
}

func (a *App) seedCategories(ctx context.Context) error {
	if err := a.database.EnsureCategories(ctx, a.cfg.NewsCategories); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	return nil
}

// newPipeline assembles the full processing pipeline. The returned renderer
// owns the shared headless browser and must be closed when the mode exits.
func (a *App) newPipeline() (*pipeline.Pipeline, *fetch.Renderer, error) {
	fetcher := fetch.NewFetcher(fetch.Config{
		Timeout:            a.cfg.FetchTimeout,
		MaxRetries:         a.cfg.FetchMaxRetries,
		GlobalConcurrency:  a.cfg.FetchGlobalConcurrency,
		PerHostConcurrency: a.cfg.FetchPerHostConcurrency,
		UserAgent:          a.cfg.FetchUserAgent,
	}, a.logger)

	renderer := fetch.NewRenderer(fetch.RenderConfig{
		Concurrency:  a.cfg.BrowserConcurrency,
		FirstTimeout: time.Duration(a.cfg.RenderFirstMS) * time.Millisecond,
		Budget:       time.Duration(a.cfg.RenderBudgetMS) * time.Millisecond,
	}, a.logger)

	registry := source.NewRegistry(
		source.NewRSS(fetcher, a.cfg.MinContentLength, a.logger),
		source.NewTelegram(fetcher, a.logger),
		source.NewCustom(fetcher, a.database, db.ErrSettingNotFound, a.logger),
		source.NewGeneric(),
	)

	filter := filters.New(filters.Config{MaxLength: a.cfg.MaxContentLength}, a.database, a.logger)

	aiClient := llm.New(a.cfg, a.logger)
	mem := memory.New(a.cfg, a.database, a.logger)
	extractor := extract.New(a.cfg, fetcher, renderer, mem, aiClient, a.logger)
	mapper := categories.New(a.cfg, a.database, a.logger)

	publisher, err := a.newPublisher()
	if err != nil {
		renderer.Close()

		return nil, nil, err
	}

	p := pipeline.New(a.cfg, a.database, registry, filter, extractor, aiClient, mapper, publisher, a.logger)

	return p, renderer, nil
}

// newPublisher assembles the digest publisher. Without a bot token or a chat
// the pipeline gets a nil publisher and digests are generated but not sent.
func (a *App) newPublisher() (pipeline.Publisher, error) {
	if a.cfg.TelegramToken == "" {
		a.logger.Warn().Msg("TELEGRAM_TOKEN not set, digest delivery disabled")

		return nil, nil
	}

	chatID := a.cfg.TelegramChatIDNews
	if chatID == 0 {
		chatID = a.cfg.TelegramChatID
	}

	if chatID == 0 {
		a.logger.Warn().Msg("no digest chat configured, digest delivery disabled")

		return nil, nil
	}

	sender, err := telegram.NewSender(a.cfg.TelegramToken, chatID, a.logger)
	if err != nil {
		return nil, fmt.Errorf("telegram sender: %w", err)
	}

	var listing output.ListingPublisher

	if a.cfg.TelegraphAccessToken != "" {
		listing = telegraph.NewClient(telegraph.Config{AccessToken: a.cfg.TelegraphAccessToken}, a.logger)
	} else {
		a.logger.Info().Msg("TELEGRAPH_ACCESS_TOKEN not set, digests go out without listing pages")
	}

	return output.NewPublisher(sender, listing, a.logger), nil
}
