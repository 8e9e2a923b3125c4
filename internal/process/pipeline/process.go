package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/ingest/source"
	"github.com/lueurxax/newspipe/internal/llm"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
	"github.com/lueurxax/newspipe/internal/platform/observability"
	"github.com/lueurxax/newspipe/internal/platform/worker"
	"github.com/lueurxax/newspipe/internal/process/extract"
	db "github.com/lueurxax/newspipe/internal/storage"
)

// process analyzes one batch of unprocessed articles with bounded
// concurrency. Articles the batch cannot finish stay unprocessed and the
// next cycle picks them up again, oldest first.
func (p *Pipeline) process(ctx context.Context, logger *zerolog.Logger, stats *cycleStats) error {
	start := time.Now()

	articles, err := p.repo.GetUnprocessedArticles(ctx, processBatchSize)
	if err != nil {
		return fmt.Errorf("load unprocessed articles: %w", err)
	}

	if len(articles) == 0 {
		logger.Debug().Msg("no articles awaiting processing")
		return nil
	}

	if backlog, berr := p.repo.GetBacklogCount(ctx); berr == nil && backlog > len(articles) {
		logger.Info().Int("backlog", backlog).Msg("processing backlog exceeds batch size")
	}

	logger.Info().Int(logFieldCount, len(articles)).Msg("processing articles")

	jobs := make(chan *db.Article)

	var wg sync.WaitGroup

	for i := 0; i < p.workers(); i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for a := range jobs {
				func() {
					defer worker.RecoverPanic(logger, "process article")
					p.processArticle(ctx, logger, a, stats)
				}()
			}
		}()
	}

feed:
	for i := range articles {
		select {
		case jobs <- &articles[i]:
		case <-ctx.Done():
			break feed
		}
	}

	close(jobs)
	wg.Wait()

	observability.PipelineBatchDurationSeconds.Observe(time.Since(start).Seconds())

	return ctx.Err()
}

// processArticle runs one article through body extraction, unified analysis
// and category assignment. Failures leave the article retryable.
func (p *Pipeline) processArticle(ctx context.Context, logger *zerolog.Logger, a *db.Article, stats *cycleStats) {
	alog := logger.With().Int64(logFieldArticleID, a.ID).Logger()

	if !a.PublishedAt.IsZero() {
		observability.PipelineArticleAgeSeconds.Observe(time.Since(a.PublishedAt).Seconds())
	}

	if !p.ensureBody(ctx, &alog, a, stats) {
		observability.PipelineProcessed.WithLabelValues(statusSkipped).Inc()
		return
	}

	stats.apiCalls.Add(1)

	analysis, err := p.ai.AnalyzeArticle(ctx, a.Title, a.Content, a.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		stats.errors.Add(1)
		observability.PipelineProcessed.WithLabelValues(statusError).Inc()
		alog.Warn().Err(err).Msg("article analysis failed")
		p.writeFallbackSummary(ctx, &alog, a)

		return
	}

	observability.AdScore.Observe(analysis.AdConfidence)

	if err := p.persistAnalysis(ctx, a, analysis); err != nil {
		if ctx.Err() != nil {
			return
		}

		stats.errors.Add(1)
		observability.PipelineProcessed.WithLabelValues(statusError).Inc()
		alog.Warn().Err(err).Msg("failed to persist analysis")

		return
	}

	if err := p.assignCategories(ctx, &alog, a, analysis.Categories); err != nil {
		if ctx.Err() != nil {
			return
		}

		stats.errors.Add(1)
		observability.PipelineProcessed.WithLabelValues(statusError).Inc()
		alog.Warn().Err(err).Msg("failed to assign categories")

		return
	}

	stats.processed.Add(1)
	observability.PipelineProcessed.WithLabelValues(statusSuccess).Inc()
	alog.Debug().Msg("article processed")
}

// ensureBody makes sure the article carries enough text for analysis,
// fetching the page when the feed only gave a teaser. Returns false when the
// article should be skipped this cycle.
func (p *Pipeline) ensureBody(ctx context.Context, logger *zerolog.Logger, a *db.Article, stats *cycleStats) bool {
	if !p.needsExtraction(a) {
		return true
	}

	ex, err := p.extractor.Extract(ctx, a.URL, "")
	if err != nil {
		return p.routeExtractError(ctx, logger, err, stats)
	}

	var media []byte
	if len(ex.Media) > 0 {
		if data, merr := json.Marshal(ex.Media); merr == nil {
			media = data
		}
	}

	if err := p.repo.UpdateArticleContent(ctx, a.ID, ex.Content, firstImageURL(ex.Media), media, ex.PublishedAt); err != nil {
		if ctx.Err() == nil {
			stats.errors.Add(1)
			logger.Warn().Err(err).Msg("failed to store extracted content")
		}

		return false
	}

	a.Content = ex.Content
	if a.Title == "" && ex.Title != "" {
		a.Title = ex.Title
	}

	if ex.PublishedAt != nil {
		a.PublishedAt = *ex.PublishedAt
	}

	return true
}

// needsExtraction defers to the source adapter: telegram and custom sources
// keep the fetched content, feeds with teaser bodies go to the extractor.
func (p *Pipeline) needsExtraction(a *db.Article) bool {
	adapter, ok := p.sources.For(a.SourceType)
	if !ok {
		return true
	}

	return adapter.NeedsBodyExtraction(&source.Candidate{Title: a.Title, URL: a.URL, Content: a.Content})
}

// routeExtractError decides whether the feed content is good enough after a
// failed page fetch. Gone or blocked pages will never yield more than the
// teaser, so analysis proceeds with it. Transient and quality failures wait
// for the next cycle without an AI call.
func (p *Pipeline) routeExtractError(ctx context.Context, logger *zerolog.Logger, err error, stats *cycleStats) bool {
	if ctx.Err() != nil {
		return false
	}

	var blocked *extract.BlockedError

	switch {
	case errors.Is(err, extract.ErrNotFound), errors.As(err, &blocked):
		logger.Warn().Err(err).Msg("article page unreachable, using feed content")
		return true
	case errors.Is(err, extract.ErrQualityFail), errors.Is(err, extract.ErrEmpty):
		logger.Debug().Err(err).Msg("extraction below quality bar, will retry later")
		return false
	default:
		stats.errors.Add(1)
		logger.Warn().Err(err).Msg("extraction failed, will retry later")

		return false
	}
}

func firstImageURL(media []htmlutils.Media) string {
	for _, m := range media {
		if m.Type == htmlutils.MediaImage {
			return m.URL
		}
	}

	return ""
}

// persistAnalysis writes the analysis results. The summary is written only
// while the article has no accepted summary yet; ad fields are refreshed on
// every successful analysis.
func (p *Pipeline) persistAnalysis(ctx context.Context, a *db.Article, analysis *llm.UnifiedAnalysis) error {
	upd := db.AnalysisUpdate{
		Title:           analysis.OptimizedTitle,
		IsAdvertisement: analysis.IsAdvertisement,
		AdConfidence:    float32(analysis.AdConfidence),
		AdType:          analysis.AdType,
		AdReasoning:     analysis.AdReasoning,
		AdProcessed:     true,
	}

	if len(analysis.AdMarkers) > 0 {
		if data, err := json.Marshal(analysis.AdMarkers); err == nil {
			upd.AdMarkers = data
		}
	}

	if !a.SummaryProcessed {
		upd.Summary = analysis.Summary
		upd.SummaryOK = strings.TrimSpace(analysis.Summary) != ""
	}

	if err := p.repo.ApplyAnalysis(ctx, a.ID, upd); err != nil {
		return fmt.Errorf("apply analysis: %w", err)
	}

	if analysis.PublicationDate != nil && a.PublishedAt.Equal(a.FetchedAt) {
		// The stored date was the ingest clamp and the analysis recovered a
		// real one.
		if err := p.repo.UpdateArticleContent(ctx, a.ID, a.Content, "", nil, analysis.PublicationDate); err != nil {
			return fmt.Errorf("update publication date: %w", err)
		}
	}

	return nil
}

// assignCategories resolves the analysis labels into fixed categories and
// stores the assignment.
func (p *Pipeline) assignCategories(ctx context.Context, logger *zerolog.Logger, a *db.Article, scores []llm.CategoryScore) error {
	if a.CategoryProcessed {
		return nil
	}

	resolved, err := p.mapper.Resolve(ctx, scores)
	if err != nil {
		return fmt.Errorf("resolve categories: %w", err)
	}

	if err := p.repo.ReplaceArticleCategories(ctx, a.ID, resolved); err != nil {
		return fmt.Errorf("replace article categories: %w", err)
	}

	if err := p.repo.MarkCategoryProcessed(ctx, a.ID); err != nil {
		return fmt.Errorf("mark category processed: %w", err)
	}

	logger.Debug().Int(logFieldCount, len(resolved)).Msg("categories assigned")

	return nil
}

// writeFallbackSummary stores a plain teaser so the digest can still link
// the article. summary_processed stays false and the next cycle retries the
// full analysis.
func (p *Pipeline) writeFallbackSummary(ctx context.Context, logger *zerolog.Logger, a *db.Article) {
	if a.Summary != "" || a.SummaryProcessed {
		return
	}

	upd := db.AnalysisUpdate{
		Summary: fallbackSummary(a),
		// Ad columns are written unconditionally, so carry the stored values.
		IsAdvertisement: a.IsAdvertisement,
		AdConfidence:    a.AdConfidence,
		AdType:          a.AdType,
		AdReasoning:     a.AdReasoning,
		AdProcessed:     a.AdProcessed,
	}

	if err := p.repo.ApplyAnalysis(ctx, a.ID, upd); err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).Msg("failed to store fallback summary")
		}

		return
	}

	logger.Info().Msg("fallback summary stored, analysis will retry")
}

func fallbackSummary(a *db.Article) string {
	base := strings.TrimSpace(a.Content)
	if base == "" {
		base = strings.TrimSpace(a.Title)
	}

	if runes := []rune(base); len(runes) > fallbackSummaryRunes {
		base = string(runes[:fallbackSummaryRunes]) + "..."
	}

	return fmt.Sprintf("%s <a href=\"%s\">Читать оригинал</a>", base, htmlutils.EscapeHTML(a.URL))
}
