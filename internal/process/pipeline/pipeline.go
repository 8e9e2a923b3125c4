// Package pipeline orchestrates the processing cycle: fetching due sources,
// analyzing stored articles, generating per-category daily summaries and
// delivering the assembled digest.
//
// Every stage tolerates partial failure. A broken feed is recorded on its
// source row, a failed article stays retryable for the next cycle, and a
// failed delivery is retried on the next digest run from the stored
// summaries. Only context cancellation aborts a cycle early.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/ingest/source"
	"github.com/lueurxax/newspipe/internal/llm"
	"github.com/lueurxax/newspipe/internal/platform/config"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	"github.com/lueurxax/newspipe/internal/process/extract"
	"github.com/lueurxax/newspipe/internal/process/filters"
	db "github.com/lueurxax/newspipe/internal/storage"
)

// Repository is the storage surface the pipeline depends on.
type Repository interface {
	DueSources(ctx context.Context, now time.Time) ([]db.Source, error)
	MarkSourceSuccess(ctx context.Context, id int64, at time.Time) error
	MarkSourceError(ctx context.Context, id int64, at time.Time, msg string) error
	WaitReady(ctx context.Context) error
	UpsertArticle(ctx context.Context, article *db.Article) (int64, bool, error)

	GetUnprocessedArticles(ctx context.Context, limit int) ([]db.Article, error)
	GetBacklogCount(ctx context.Context) (int, error)
	UpdateArticleContent(ctx context.Context, id int64, content, imageURL string, media []byte, publishedAt *time.Time) error
	ApplyAnalysis(ctx context.Context, id int64, upd db.AnalysisUpdate) error
	ReplaceArticleCategories(ctx context.Context, articleID int64, scores []db.CategoryScore) error
	MarkCategoryProcessed(ctx context.Context, id int64) error

	GetArticlesForDate(ctx context.Context, date time.Time) ([]db.DigestArticle, error)
	UpsertDailySummary(ctx context.Context, summary *db.DailySummary) error
	GetDailySummaries(ctx context.Context, date time.Time) ([]db.DailySummary, error)
	BumpProcessingStats(ctx context.Context, date time.Time, delta db.ProcessingStats) error
}

var _ Repository = (*db.DB)(nil)

// Extractor resolves the full body of an article page.
type Extractor interface {
	Extract(ctx context.Context, rawURL, rawHTML string) (*extract.Extraction, error)
}

// CategoryMapper resolves AI category labels into fixed category scores.
type CategoryMapper interface {
	Resolve(ctx context.Context, scores []llm.CategoryScore) ([]db.CategoryScore, error)
}

// Publisher delivers an assembled digest. A nil Publisher skips delivery,
// which keeps the processing modes usable without Telegram credentials.
type Publisher interface {
	PublishDigest(ctx context.Context, date time.Time, summaries []db.DailySummary, articles []db.DigestArticle) error
}

// Pipeline coordinates the ingest, analysis, summary and digest stages.
type Pipeline struct {
	cfg       *config.Config
	repo      Repository
	sources   *source.Registry
	filter    *filters.Filter
	extractor Extractor
	ai        llm.Client
	mapper    CategoryMapper
	publisher Publisher
	logger    *zerolog.Logger
}

// New creates a pipeline over the given collaborators. publisher may be nil.
func New(
	cfg *config.Config,
	repo Repository,
	sources *source.Registry,
	filter *filters.Filter,
	extractor Extractor,
	ai llm.Client,
	mapper CategoryMapper,
	publisher Publisher,
	logger *zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		repo:      repo,
		sources:   sources,
		filter:    filter,
		extractor: extractor,
		ai:        ai,
		mapper:    mapper,
		publisher: publisher,
		logger:    logger,
	}
}

// RunProcessing executes ingest and analysis without touching the digest.
func (p *Pipeline) RunProcessing(ctx context.Context) error {
	return p.run(ctx, false)
}

// RunDigest executes a full cycle, including category summaries, and
// delivers the digest for today.
func (p *Pipeline) RunDigest(ctx context.Context) error {
	if err := p.run(ctx, true); err != nil {
		return err
	}

	return p.emit(ctx, time.Now().UTC())
}

// cycleStats accumulates counters across concurrent stage workers. The
// totals land in processing_stats when the cycle finishes.
type cycleStats struct {
	fetched   atomic.Int64
	processed atomic.Int64
	apiCalls  atomic.Int64
	errors    atomic.Int64
}

// run drives the stages in order. Stage errors are logged and counted but do
// not stop the cycle; cancellation does.
func (p *Pipeline) run(ctx context.Context, withSummaries bool) error {
	start := time.Now()
	today := start.UTC().Truncate(24 * time.Hour)

	logger := p.logger.With().Str(logFieldCycleID, uuid.New().String()).Logger()
	logger.Info().Msg("pipeline cycle started")

	stats := &cycleStats{}

	if err := p.ingest(ctx, &logger, stats); err != nil {
		if ctx.Err() != nil {
			return err
		}

		stats.errors.Add(1)
		logger.Error().Err(err).Msg("ingest stage failed")
	}

	if err := p.process(ctx, &logger, stats); err != nil {
		if ctx.Err() != nil {
			return err
		}

		stats.errors.Add(1)
		logger.Error().Err(err).Msg("processing stage failed")
	}

	if withSummaries {
		if err := p.summarize(ctx, &logger, today, stats); err != nil {
			if ctx.Err() != nil {
				return err
			}

			stats.errors.Add(1)
			logger.Error().Err(err).Msg("summary stage failed")
		}
	}

	p.flushStats(ctx, &logger, today, stats, time.Since(start))

	return ctx.Err()
}

// flushStats records the cycle's counters for the day and logs the totals.
func (p *Pipeline) flushStats(ctx context.Context, logger *zerolog.Logger, date time.Time, stats *cycleStats, elapsed time.Duration) {
	delta := db.ProcessingStats{
		ArticlesFetched:       int(stats.fetched.Load()),
		ArticlesProcessed:     int(stats.processed.Load()),
		APICallsMade:          int(stats.apiCalls.Load()),
		ErrorsCount:           int(stats.errors.Load()),
		ProcessingTimeSeconds: int(elapsed.Seconds()),
	}

	if err := p.repo.BumpProcessingStats(ctx, date, delta); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("failed to record processing stats")
	}

	logger.Info().
		Int("fetched", delta.ArticlesFetched).
		Int("processed", delta.ArticlesProcessed).
		Int("api_calls", delta.APICallsMade).
		Int("errors", delta.ErrorsCount).
		Dur("elapsed", elapsed).
		Msg("pipeline cycle finished")
}

// emit assembles the digest for date from stored summaries and hands it to
// the publisher. No model calls happen here; a failed delivery leaves the
// rows in place so the next digest run retries.
func (p *Pipeline) emit(ctx context.Context, date time.Time) error {
	if p.publisher == nil {
		p.logger.Debug().Msg("no publisher configured, skipping digest delivery")
		return nil
	}

	day := date.UTC().Truncate(24 * time.Hour)

	summaries, err := p.repo.GetDailySummaries(ctx, day)
	if err != nil {
		return fmt.Errorf("load daily summaries: %w", err)
	}

	if len(summaries) == 0 {
		p.logger.Info().Time("date", day).Msg("no summaries for date, skipping digest")
		return nil
	}

	articles, err := p.repo.GetArticlesForDate(ctx, day)
	if err != nil {
		return fmt.Errorf("load digest articles: %w", err)
	}

	if err := p.publisher.PublishDigest(ctx, day, summaries, articles); err != nil {
		observability.DigestsPosted.WithLabelValues(statusFailure).Inc()
		return fmt.Errorf("publish digest: %w", err)
	}

	observability.DigestsPosted.WithLabelValues(statusSuccess).Inc()
	observability.DigestArticles.Set(float64(len(articles)))

	p.logger.Info().
		Time("date", day).
		Int("categories", len(summaries)).
		Int(logFieldCount, len(articles)).
		Msg("digest delivered")

	return nil
}

// workers returns the concurrency bound for fetch and analysis stages.
func (p *Pipeline) workers() int {
	if p.cfg.MaxWorkers <= 0 {
		return 1
	}

	return p.cfg.MaxWorkers
}
