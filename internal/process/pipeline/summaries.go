package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	db "github.com/lueurxax/newspipe/internal/storage"
)

// categoryGroup holds one category's digest articles in stored order.
type categoryGroup struct {
	name     string
	articles []db.DigestArticle
}

// summarize generates one summary per category over the date's processed
// articles and overwrites any earlier summary for the same date and
// category.
func (p *Pipeline) summarize(ctx context.Context, logger *zerolog.Logger, date time.Time, stats *cycleStats) error {
	articles, err := p.repo.GetArticlesForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("load articles for date: %w", err)
	}

	if len(articles) == 0 {
		logger.Info().Time("date", date).Msg("no processed articles for date")
		return nil
	}

	for _, g := range groupByCategory(articles) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(g.articles) < p.cfg.DigestMinArticles {
			logger.Debug().
				Str(logFieldCategory, g.name).
				Int(logFieldCount, len(g.articles)).
				Msg("too few articles for summary")

			continue
		}

		text := p.categorySummary(ctx, logger, g, stats)
		if err := ctx.Err(); err != nil {
			return err
		}

		summary := db.DailySummary{
			Date:          date,
			Category:      g.name,
			SummaryText:   text,
			ArticlesCount: len(g.articles),
		}

		if err := p.repo.UpsertDailySummary(ctx, &summary); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			stats.errors.Add(1)
			logger.Warn().Err(err).Str(logFieldCategory, g.name).Msg("failed to store category summary")

			continue
		}

		logger.Info().
			Str(logFieldCategory, g.name).
			Int(logFieldCount, len(g.articles)).
			Msg("category summary stored")
	}

	return ctx.Err()
}

// categorySummary asks the model for a digest paragraph and falls back to a
// fixed phrase when the model fails or answers too briefly.
func (p *Pipeline) categorySummary(ctx context.Context, logger *zerolog.Logger, g categoryGroup, stats *cycleStats) string {
	briefs := make([]string, 0, min(len(g.articles), summaryMaxArticles))

	for i := range g.articles {
		if len(briefs) == summaryMaxArticles {
			break
		}

		briefs = append(briefs, articleBrief(&g.articles[i].Article))
	}

	stats.apiCalls.Add(1)

	text, err := p.ai.CategorySummary(ctx, g.name, briefs)
	if err == nil {
		text = strings.TrimSpace(text)
		if len([]rune(text)) >= minSummaryRunes {
			return text
		}

		logger.Warn().Str(logFieldCategory, g.name).Msg("category summary too short, using fallback")
	} else {
		if ctx.Err() != nil {
			return ""
		}

		stats.errors.Add(1)
		logger.Warn().Err(err).Str(logFieldCategory, g.name).Msg("category summary failed, using fallback")
	}

	return fmt.Sprintf("В сфере %s произошли важные события. Обработано %d новостей.", strings.ToLower(g.name), len(g.articles))
}

func articleBrief(a *db.Article) string {
	body := strings.TrimSpace(a.Summary)
	if body == "" {
		body = strings.TrimSpace(a.Content)
	}

	if runes := []rune(body); len(runes) > summaryBriefRunes {
		body = string(runes[:summaryBriefRunes])
	}

	return fmt.Sprintf("Заголовок: %s\nСодержание: %s", a.Title, body)
}

// groupByCategory splits the date's articles into per-category runs. Rows
// arrive sorted by category name, then confidence, so a run split preserves
// the order the digest wants.
func groupByCategory(articles []db.DigestArticle) []categoryGroup {
	var groups []categoryGroup

	for _, a := range articles {
		if len(groups) == 0 || groups[len(groups)-1].name != a.CategoryName {
			groups = append(groups, categoryGroup{name: a.CategoryName})
		}

		last := &groups[len(groups)-1]
		last.articles = append(last.articles, a)
	}

	return groups
}
