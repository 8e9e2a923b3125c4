package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/ingest/source"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	"github.com/lueurxax/newspipe/internal/platform/worker"
	"github.com/lueurxax/newspipe/internal/process/filters"
	db "github.com/lueurxax/newspipe/internal/storage"
)

// sourceFilterConfig is the slice of the per-source config JSON the ingest
// stage understands.
type sourceFilterConfig struct {
	AllowAnyLanguage bool `json:"allow_any_language"`
}

// ingest fetches all due sources with bounded concurrency and stores the
// candidates that survive filtering.
func (p *Pipeline) ingest(ctx context.Context, logger *zerolog.Logger, stats *cycleStats) error {
	now := time.Now().UTC()

	due, err := p.repo.DueSources(ctx, now)
	if err != nil {
		return fmt.Errorf("load due sources: %w", err)
	}

	if len(due) == 0 {
		logger.Debug().Msg("no sources due for fetching")
		return nil
	}

	logger.Info().Int(logFieldCount, len(due)).Msg("fetching due sources")

	sem := make(chan struct{}, p.workers())

	var wg sync.WaitGroup

	for i := range due {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)

		go func(src *db.Source) {
			defer wg.Done()
			defer func() { <-sem }()
			defer worker.RecoverPanic(logger, "ingest source")

			p.ingestSource(ctx, logger, src, stats)
		}(&due[i])
	}

	wg.Wait()

	return ctx.Err()
}

// ingestSource drains one source's candidate stream into storage. Failures
// are recorded on the source row so broken feeds surface in the API instead
// of failing the stage.
func (p *Pipeline) ingestSource(ctx context.Context, logger *zerolog.Logger, src *db.Source, stats *cycleStats) {
	slog := logger.With().
		Int64(logFieldSourceID, src.ID).
		Str(logFieldSourceType, src.Type).
		Logger()

	now := time.Now().UTC()

	adapter, ok := p.sources.For(src.Type)
	if !ok {
		slog.Warn().Msg("no adapter for source type")
		p.markSourceError(ctx, &slog, src.ID, now, "no adapter for source type "+src.Type)

		return
	}

	stream, err := adapter.Fetch(ctx, src)
	if err != nil {
		observability.SourceFetchErrors.WithLabelValues(src.Type).Inc()
		stats.errors.Add(1)
		slog.Warn().Err(err).Msg("source fetch failed")
		p.markSourceError(ctx, &slog, src.ID, now, err.Error())

		return
	}

	stored := 0

	for c := range stream {
		if ctx.Err() != nil {
			return
		}

		if p.storeCandidate(ctx, &slog, src, &c, now, stats) {
			stored++
		}
	}

	if ctx.Err() != nil {
		return
	}

	if err := p.repo.MarkSourceSuccess(ctx, src.ID, now); err != nil {
		slog.Warn().Err(err).Msg("failed to mark source success")
	}

	slog.Info().Int(logFieldCount, stored).Msg("source fetched")
}

func (p *Pipeline) markSourceError(ctx context.Context, logger *zerolog.Logger, id int64, at time.Time, msg string) {
	if err := p.repo.MarkSourceError(ctx, id, at, msg); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("failed to record source error")
	}
}

// storeCandidate filters one candidate and upserts it. Returns true when a
// new article row was inserted.
func (p *Pipeline) storeCandidate(ctx context.Context, logger *zerolog.Logger, src *db.Source, c *source.Candidate, now time.Time, stats *cycleStats) bool {
	if err := p.repo.WaitReady(ctx); err != nil {
		return false
	}

	body := c.Content
	if src.Type == domain.SourceTypeTelegram {
		body, _ = filters.StripFooterBoilerplate(body)
	}

	var fcfg sourceFilterConfig
	if len(src.Config) > 0 {
		_ = json.Unmarshal(src.Config, &fcfg)
	}

	item := filters.Item{
		Title:            c.Title,
		Body:             body,
		URL:              c.URL,
		SourceType:       src.Type,
		AllowAnyLanguage: fcfg.AllowAnyLanguage,
	}

	verdict, err := p.filter.Check(ctx, &item)
	if err != nil {
		// The verdict is still usable, only the duplicate probe degraded.
		logger.Warn().Err(err).Str(logFieldURL, c.URL).Msg("duplicate check degraded")
	}

	if verdict.Drop {
		logger.Debug().Str("reason", verdict.Reason).Str(logFieldURL, c.URL).Msg("candidate dropped")
		return false
	}

	article := db.Article{
		SourceID:    src.ID,
		Title:       c.Title,
		URL:         c.URL,
		Content:     body,
		ImageURL:    c.ImageURL,
		PublishedAt: c.PublishedAt,
		HashContent: verdict.Hash,
		// Feed position offsets fetched_at so date ties keep source order.
		FetchedAt: now.Add(-time.Duration(c.Order) * time.Millisecond),
	}

	if len(c.Media) > 0 {
		if data, merr := json.Marshal(c.Media); merr == nil {
			article.MediaFiles = data
		}
	}

	if meta := candidateMetadata(c, verdict); len(meta) > 0 {
		if data, merr := json.Marshal(meta); merr == nil {
			article.Metadata = data
		}
	}

	id, inserted, err := p.repo.UpsertArticle(ctx, &article)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}

		stats.errors.Add(1)
		logger.Warn().Err(err).Str(logFieldURL, c.URL).Msg("failed to store article")

		return false
	}

	if !inserted {
		return false
	}

	observability.ArticlesIngested.WithLabelValues(src.Type).Inc()
	stats.fetched.Add(1)
	logger.Debug().Int64(logFieldArticleID, id).Str(logFieldURL, c.URL).Msg("article stored")

	return true
}

func candidateMetadata(c *source.Candidate, verdict filters.Verdict) map[string]string {
	meta := make(map[string]string, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}

	if verdict.AdPrior {
		meta["ad_prior"] = "true"
	}

	return meta
}
