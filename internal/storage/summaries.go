package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lueurxax/newspipe/internal/core/domain"
)

// Aliases for the domain types.
type (
	DailySummary    = domain.DailySummary
	ProcessingStats = domain.ProcessingStats
)

// UpsertDailySummary stores a category summary for a date, overwriting any
// previous run for the same (date, category).
func (db *DB) UpsertDailySummary(ctx context.Context, summary *DailySummary) error {
	return db.queue.Submit(ctx, ShardArticles, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_summaries (date, category, summary_text, articles_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (date, category) DO UPDATE SET
				summary_text = EXCLUDED.summary_text,
				articles_count = EXCLUDED.articles_count,
				created_at = now()`,
			toDate(summary.Date), summary.Category, SanitizeUTF8(summary.SummaryText), summary.ArticlesCount)
		if err != nil {
			return fmt.Errorf("upsert daily summary: %w", err)
		}

		return nil
	})
}

// GetDailySummaries returns all category summaries stored for a date.
func (db *DB) GetDailySummaries(ctx context.Context, date time.Time) ([]DailySummary, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, date, category, summary_text, articles_count, created_at
		FROM daily_summaries
		WHERE date = $1
		ORDER BY category`, toDate(date))
	if err != nil {
		return nil, fmt.Errorf("get daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []DailySummary

	for rows.Next() {
		var s DailySummary

		if err := rows.Scan(&s.ID, &s.Date, &s.Category, &s.SummaryText, &s.ArticlesCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}

		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// BumpProcessingStats adds counter deltas to the day's stats row.
func (db *DB) BumpProcessingStats(ctx context.Context, date time.Time, delta ProcessingStats) error {
	return db.queue.Submit(ctx, ShardArticles, "stats", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO processing_stats (date, articles_fetched, articles_processed,
				api_calls_made, errors_count, processing_time_seconds)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (date) DO UPDATE SET
				articles_fetched = processing_stats.articles_fetched + EXCLUDED.articles_fetched,
				articles_processed = processing_stats.articles_processed + EXCLUDED.articles_processed,
				api_calls_made = processing_stats.api_calls_made + EXCLUDED.api_calls_made,
				errors_count = processing_stats.errors_count + EXCLUDED.errors_count,
				processing_time_seconds = processing_stats.processing_time_seconds + EXCLUDED.processing_time_seconds`,
			toDate(date), delta.ArticlesFetched, delta.ArticlesProcessed,
			delta.APICallsMade, delta.ErrorsCount, delta.ProcessingTimeSeconds)
		if err != nil {
			return fmt.Errorf("bump processing stats: %w", err)
		}

		return nil
	})
}

// GetProcessingStats returns the day's counters, zeroed when absent.
func (db *DB) GetProcessingStats(ctx context.Context, date time.Time) (*ProcessingStats, error) {
	stats := &ProcessingStats{Date: date}

	err := db.Pool.QueryRow(ctx, `
		SELECT articles_fetched, articles_processed, api_calls_made, errors_count, processing_time_seconds
		FROM processing_stats WHERE date = $1`, toDate(date)).
		Scan(&stats.ArticlesFetched, &stats.ArticlesProcessed, &stats.APICallsMade,
			&stats.ErrorsCount, &stats.ProcessingTimeSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stats, nil
		}

		return nil, fmt.Errorf("get processing stats: %w", err)
	}

	return stats, nil
}
