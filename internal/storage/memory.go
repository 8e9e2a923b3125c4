package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/newspipe/internal/core/domain"
)

// Aliases for the domain types.
type (
	ExtractionPattern = domain.ExtractionPattern
	ExtractionAttempt = domain.ExtractionAttempt
	DomainStability   = domain.DomainStability
	AIUsage           = domain.AIUsage
)

// ErrStabilityNotFound is returned for domains never attempted.
var ErrStabilityNotFound = errors.New("domain stability not found")

// GetPatternsForDomain returns remembered selectors, stable and most
// successful first.
func (db *DB) GetPatternsForDomain(ctx context.Context, dom string) ([]ExtractionPattern, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, domain, selector_pattern, extraction_strategy, success_count, failure_count,
			quality_score_avg, content_length_avg, discovered_by, is_stable,
			consecutive_successes, consecutive_failures, first_success_at, last_success_at
		FROM extraction_patterns
		WHERE domain = $1
		ORDER BY is_stable DESC,
			success_count::float / GREATEST(success_count + failure_count, 1) DESC,
			success_count DESC`, dom)
	if err != nil {
		return nil, fmt.Errorf("get patterns for domain: %w", err)
	}
	defer rows.Close()

	var patterns []ExtractionPattern

	for rows.Next() {
		var (
			p            ExtractionPattern
			firstSuccess pgtype.Timestamptz
			lastSuccess  pgtype.Timestamptz
		)

		err := rows.Scan(&p.ID, &p.Domain, &p.Selector, &p.Strategy, &p.SuccessCount, &p.FailureCount,
			&p.QualityAvg, &p.ContentLengthAvg, &p.DiscoveredBy, &p.IsStable,
			&p.ConsecutiveSuccesses, &p.ConsecutiveFailures, &firstSuccess, &lastSuccess)
		if err != nil {
			return nil, fmt.Errorf("scan extraction pattern: %w", err)
		}

		p.FirstSuccessAt = fromTimestamptzPtr(firstSuccess)
		p.LastSuccessAt = fromTimestamptzPtr(lastSuccess)
		patterns = append(patterns, p)
	}

	return patterns, rows.Err()
}

// SavePattern records a newly discovered selector pattern.
func (db *DB) SavePattern(ctx context.Context, p *ExtractionPattern) error {
	return db.queue.Submit(ctx, ShardMemory, p.Domain, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO extraction_patterns (domain, selector_pattern, extraction_strategy, discovered_by)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (domain, selector_pattern, extraction_strategy) DO NOTHING`,
			p.Domain, p.Selector, p.Strategy, p.DiscoveredBy)
		if err != nil {
			return fmt.Errorf("save pattern: %w", err)
		}

		return nil
	})
}

// RecordExtractionOutcome persists one attempt and folds it into the pattern
// and domain stability counters. All three writes share a transaction on the
// domain's shard, so per-domain updates stay linearizable.
func (db *DB) RecordExtractionOutcome(ctx context.Context, attempt *ExtractionAttempt) error {
	return db.queue.Submit(ctx, ShardMemory, attempt.Domain, func(ctx context.Context, tx pgx.Tx) error {
		if err := insertAttempt(ctx, tx, attempt); err != nil {
			return err
		}

		if attempt.Selector != "" {
			if err := foldPattern(ctx, tx, attempt); err != nil {
				return err
			}
		}

		return foldDomainStability(ctx, tx, attempt)
	})
}

func insertAttempt(ctx context.Context, tx pgx.Tx, a *ExtractionAttempt) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO extraction_attempts (article_url, domain, extraction_strategy, selector_used,
			success, content_length, quality_score, extraction_time_ms, error_message,
			ai_analysis_triggered, user_agent, http_status_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ArticleURL, a.Domain, a.Strategy, toText(a.Selector),
		a.Success, a.ContentLength, a.Quality, a.ElapsedMS, toText(SanitizeUTF8(a.ErrorMessage)),
		a.AITriggered, toText(a.UserAgent), toInt4(a.HTTPStatus))
	if err != nil {
		return fmt.Errorf("insert extraction attempt: %w", err)
	}

	return nil
}

// foldPattern upserts the pattern row with running averages and streaks.
func foldPattern(ctx context.Context, tx pgx.Tx, a *ExtractionAttempt) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO extraction_patterns (domain, selector_pattern, extraction_strategy,
			success_count, failure_count, quality_score_avg, content_length_avg, discovered_by,
			consecutive_successes, consecutive_failures, first_success_at, last_success_at)
		VALUES ($1, $2, $3,
			CASE WHEN $4 THEN 1 ELSE 0 END, CASE WHEN $4 THEN 0 ELSE 1 END,
			$5, $6, $7,
			CASE WHEN $4 THEN 1 ELSE 0 END, CASE WHEN $4 THEN 0 ELSE 1 END,
			CASE WHEN $4 THEN now() END, CASE WHEN $4 THEN now() END)
		ON CONFLICT (domain, selector_pattern, extraction_strategy) DO UPDATE SET
			success_count = extraction_patterns.success_count + CASE WHEN $4 THEN 1 ELSE 0 END,
			failure_count = extraction_patterns.failure_count + CASE WHEN $4 THEN 0 ELSE 1 END,
			quality_score_avg = (extraction_patterns.quality_score_avg *
				(extraction_patterns.success_count + extraction_patterns.failure_count) + $5) /
				(extraction_patterns.success_count + extraction_patterns.failure_count + 1),
			content_length_avg = ((extraction_patterns.content_length_avg *
				(extraction_patterns.success_count + extraction_patterns.failure_count) + $6) /
				(extraction_patterns.success_count + extraction_patterns.failure_count + 1))::int,
			consecutive_successes = CASE WHEN $4 THEN extraction_patterns.consecutive_successes + 1 ELSE 0 END,
			consecutive_failures = CASE WHEN $4 THEN 0 ELSE extraction_patterns.consecutive_failures + 1 END,
			first_success_at = COALESCE(extraction_patterns.first_success_at, CASE WHEN $4 THEN now() END),
			last_success_at = CASE WHEN $4 THEN now() ELSE extraction_patterns.last_success_at END`,
		a.Domain, a.Selector, a.Strategy, a.Success, a.Quality, a.ContentLength,
		discoveredByOrDefault(a))
	if err != nil {
		return fmt.Errorf("fold extraction pattern: %w", err)
	}

	return nil
}

func discoveredByOrDefault(a *ExtractionAttempt) string {
	if a.AITriggered {
		return domain.DiscoveredByAI
	}

	return domain.DiscoveredByHeuristic
}

// foldDomainStability updates counters, streaks and rolling success rates.
// The 7d/30d rates are recomputed from the attempts table inside the same
// transaction, so they can never drift from the raw history.
func foldDomainStability(ctx context.Context, tx pgx.Tx, a *ExtractionAttempt) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO domain_stability (domain, total_attempts, successful_attempts,
			last_successful_extraction, last_failed_extraction,
			consecutive_successes, consecutive_failures, success_rate_7d, success_rate_30d)
		VALUES ($1, 1, CASE WHEN $2 THEN 1 ELSE 0 END,
			CASE WHEN $2 THEN now() END, CASE WHEN $2 THEN NULL ELSE now() END,
			CASE WHEN $2 THEN 1 ELSE 0 END, CASE WHEN $2 THEN 0 ELSE 1 END,
			CASE WHEN $2 THEN 1.0 ELSE 0.0 END, CASE WHEN $2 THEN 1.0 ELSE 0.0 END)
		ON CONFLICT (domain) DO UPDATE SET
			total_attempts = domain_stability.total_attempts + 1,
			successful_attempts = domain_stability.successful_attempts + CASE WHEN $2 THEN 1 ELSE 0 END,
			last_successful_extraction = CASE WHEN $2 THEN now() ELSE domain_stability.last_successful_extraction END,
			last_failed_extraction = CASE WHEN $2 THEN domain_stability.last_failed_extraction ELSE now() END,
			consecutive_successes = CASE WHEN $2 THEN domain_stability.consecutive_successes + 1 ELSE 0 END,
			consecutive_failures = CASE WHEN $2 THEN 0 ELSE domain_stability.consecutive_failures + 1 END,
			success_rate_7d = (SELECT COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0)
				FROM extraction_attempts
				WHERE domain = $1 AND created_at >= now() - interval '7 days'),
			success_rate_30d = (SELECT COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0)
				FROM extraction_attempts
				WHERE domain = $1 AND created_at >= now() - interval '30 days')`,
		a.Domain, a.Success)
	if err != nil {
		return fmt.Errorf("fold domain stability: %w", err)
	}

	return nil
}

// GetDomainStability returns the stability record for a domain.
func (db *DB) GetDomainStability(ctx context.Context, dom string) (*DomainStability, error) {
	var (
		s              DomainStability
		lastSuccess    pgtype.Timestamptz
		lastFailure    pgtype.Timestamptz
		lastAIAnalysis pgtype.Timestamptz
		achievedAt     pgtype.Timestamptz
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, domain, is_stable, success_rate_7d, success_rate_30d, total_attempts,
			successful_attempts, last_successful_extraction, last_failed_extraction,
			last_ai_analysis, consecutive_successes, consecutive_failures,
			stability_achieved_at, needs_reanalysis, ai_credits_saved, reanalysis_triggers
		FROM domain_stability WHERE domain = $1`, dom).
		Scan(&s.ID, &s.Domain, &s.IsStable, &s.SuccessRate7d, &s.SuccessRate30d, &s.TotalAttempts,
			&s.SuccessfulAttempts, &lastSuccess, &lastFailure,
			&lastAIAnalysis, &s.ConsecutiveSuccesses, &s.ConsecutiveFailures,
			&achievedAt, &s.NeedsReanalysis, &s.AICreditsSaved, &s.ReanalysisTriggers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStabilityNotFound
		}

		return nil, fmt.Errorf("get domain stability: %w", err)
	}

	s.LastSuccess = fromTimestamptzPtr(lastSuccess)
	s.LastFailure = fromTimestamptzPtr(lastFailure)
	s.LastAIAnalysis = fromTimestamptzPtr(lastAIAnalysis)
	s.StabilityAchievedAt = fromTimestamptzPtr(achievedAt)

	return &s, nil
}

// SetDomainStable flips the stability flag. Regressions append the trigger
// to the reanalysis history and mark the domain for another AI pass.
func (db *DB) SetDomainStable(ctx context.Context, dom string, stable bool, trigger string) error {
	return db.queue.Submit(ctx, ShardMemory, dom, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE domain_stability
			SET is_stable = $2,
				stability_achieved_at = CASE WHEN $2 THEN now() ELSE stability_achieved_at END,
				needs_reanalysis = NOT $2,
				reanalysis_triggers = CASE WHEN $3 <> ''
					THEN COALESCE(reanalysis_triggers, '[]'::jsonb) || to_jsonb($3::text)
					ELSE reanalysis_triggers END
			WHERE domain = $1`, dom, stable, trigger)
		if err != nil {
			return fmt.Errorf("set domain stable: %w", err)
		}

		return nil
	})
}

// TouchAIAnalysis stamps the AI cooldown clock for a domain.
func (db *DB) TouchAIAnalysis(ctx context.Context, dom string, at time.Time) error {
	return db.queue.Submit(ctx, ShardMemory, dom, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO domain_stability (domain, last_ai_analysis)
			VALUES ($1, $2)
			ON CONFLICT (domain) DO UPDATE SET last_ai_analysis = EXCLUDED.last_ai_analysis`,
			dom, at)
		if err != nil {
			return fmt.Errorf("touch ai analysis: %w", err)
		}

		return nil
	})
}

// AddAICreditsSaved counts AI calls avoided thanks to stability.
func (db *DB) AddAICreditsSaved(ctx context.Context, dom string, n int) error {
	return db.queue.Submit(ctx, ShardMemory, dom, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE domain_stability SET ai_credits_saved = ai_credits_saved + $2 WHERE domain = $1`,
			dom, n)
		if err != nil {
			return fmt.Errorf("add ai credits saved: %w", err)
		}

		return nil
	})
}

// RecordAIUsage stores one AI analysis spend.
func (db *DB) RecordAIUsage(ctx context.Context, usage *AIUsage) error {
	return db.queue.Submit(ctx, ShardMemory, usage.Domain, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ai_usage_tracking (domain, analysis_type, tokens_used, credits_cost,
				analysis_result, patterns_discovered, patterns_successful)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			usage.Domain, usage.AnalysisType, usage.TokensUsed, usage.CreditsCost,
			usage.AnalysisResult, usage.PatternsDiscovered, usage.PatternsSuccessful)
		if err != nil {
			return fmt.Errorf("record ai usage: %w", err)
		}

		return nil
	})
}

// CountAIAnalysesSince returns AI discovery spend for budget checks.
func (db *DB) CountAIAnalysesSince(ctx context.Context, since time.Time) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ai_usage_tracking WHERE created_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ai analyses: %w", err)
	}

	return count, nil
}
