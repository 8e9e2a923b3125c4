package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lueurxax/newspipe/internal/core/domain"
)

// Article is an alias for the domain type.
type Article = domain.Article

// ErrArticleNotFound is returned when an article lookup finds no row.
var ErrArticleNotFound = errors.New("article not found")

// Nullable text columns are coalesced so rows scan directly into strings.
const articleColumns = `a.id, a.source_id, COALESCE(s.source_type, ''), COALESCE(a.title, ''), a.url,
	COALESCE(a.content, ''), COALESCE(a.summary, ''), COALESCE(a.image_url, ''), a.media_files,
	a.metadata, a.published_at, a.fetched_at,
	a.processed, a.summary_processed, a.category_processed, a.ad_processed,
	a.is_advertisement, a.ad_confidence, COALESCE(a.ad_type, ''), COALESCE(a.ad_reasoning, ''),
	a.ad_markers, COALESCE(a.hash_content, '')`

// UpsertArticle inserts an article or silently keeps the existing row when
// the URL is already known. Returns the row id and whether a new row was
// created. Published dates in the future are clamped to fetched_at.
func (db *DB) UpsertArticle(ctx context.Context, article *Article) (int64, bool, error) {
	if article.FetchedAt.IsZero() {
		article.FetchedAt = time.Now().UTC()
	}

	if article.PublishedAt.IsZero() || article.PublishedAt.After(article.FetchedAt.Add(24*time.Hour)) {
		article.PublishedAt = article.FetchedAt
	}

	var (
		id       int64
		inserted bool
	)

	err := db.queue.Submit(ctx, ShardArticles, "upsert", func(ctx context.Context, tx pgx.Tx) error {
		// xmax = 0 distinguishes a fresh insert from a conflict no-op.
		return tx.QueryRow(ctx, `
			INSERT INTO articles (source_id, title, url, content, image_url, media_files,
				metadata, published_at, fetched_at, hash_content)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
			RETURNING id, (xmax = 0)`,
			article.SourceID, toText(article.Title), article.URL, toText(article.Content),
			toText(article.ImageURL), article.MediaFiles, article.Metadata,
			article.PublishedAt, article.FetchedAt, toText(article.HashContent),
		).Scan(&id, &inserted)
	})
	if err != nil {
		return 0, false, fmt.Errorf("upsert article: %w", err)
	}

	return id, inserted, nil
}

// GetUnprocessedArticles returns articles still missing a summary or a
// category, oldest first.
func (db *DB) GetUnprocessedArticles(ctx context.Context, limit int) ([]Article, error) {
	defer db.acquireRead(ctx)()

	query := `SELECT ` + articleColumns + `
		FROM articles a
		LEFT JOIN sources s ON s.id = a.source_id
		WHERE NOT a.summary_processed OR NOT a.category_processed
		ORDER BY a.published_at ASC
		LIMIT $1`

	return db.queryArticles(ctx, query, limit)
}

// GetBacklogCount returns the number of articles awaiting processing.
func (db *DB) GetBacklogCount(ctx context.Context) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM articles
		WHERE NOT summary_processed OR NOT category_processed`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("get backlog count: %w", err)
	}

	return count, nil
}

// HashContentExists reports whether a content hash is already persisted.
func (db *DB) HashContentExists(ctx context.Context, hash string) (bool, error) {
	var exists bool

	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM articles WHERE hash_content = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}

	return exists, nil
}

// UpdateArticleContent stores an extracted body and its metadata.
func (db *DB) UpdateArticleContent(ctx context.Context, id int64, content, imageURL string, media []byte, publishedAt *time.Time) error {
	return db.queue.Submit(ctx, ShardArticles, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE articles
			SET content = $2,
				image_url = CASE WHEN $3 <> '' THEN $3 ELSE image_url END,
				media_files = COALESCE($4, media_files),
				published_at = COALESCE($5, published_at)
			WHERE id = $1`,
			id, SanitizeUTF8(content), imageURL, media, toTimestamptzPtr(publishedAt))
		if err != nil {
			return fmt.Errorf("update article content: %w", err)
		}

		return nil
	})
}

// AnalysisUpdate carries the persisted outcome of one AI analysis.
type AnalysisUpdate struct {
	Title           string
	Summary         string
	SummaryOK       bool
	IsAdvertisement bool
	AdConfidence    float32
	AdType          string
	AdReasoning     string
	AdMarkers       []byte
	AdProcessed     bool
}

// ApplyAnalysis persists AI analysis results. summary_processed is only set
// when the summary came from a successful AI call, so failed articles stay
// eligible for retry.
func (db *DB) ApplyAnalysis(ctx context.Context, id int64, upd AnalysisUpdate) error {
	return db.queue.Submit(ctx, ShardArticles, "analysis", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE articles
			SET title = CASE WHEN $2 <> '' THEN $2 ELSE title END,
				summary = CASE WHEN $3 <> '' THEN $3 ELSE summary END,
				summary_processed = summary_processed OR $4,
				is_advertisement = $5,
				ad_confidence = $6,
				ad_type = $7,
				ad_reasoning = $8,
				ad_markers = COALESCE($9, ad_markers),
				ad_processed = ad_processed OR $10,
				processed = (summary_processed OR $4) AND category_processed
			WHERE id = $1`,
			id, SanitizeUTF8(upd.Title), SanitizeUTF8(upd.Summary), upd.SummaryOK,
			upd.IsAdvertisement, upd.AdConfidence, upd.AdType, SanitizeUTF8(upd.AdReasoning),
			upd.AdMarkers, upd.AdProcessed || upd.IsAdvertisement)
		if err != nil {
			return fmt.Errorf("apply analysis: %w", err)
		}

		return nil
	})
}

// MarkCategoryProcessed flips the category flag after assignments persisted.
func (db *DB) MarkCategoryProcessed(ctx context.Context, id int64) error {
	return db.queue.Submit(ctx, ShardArticles, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE articles
			SET category_processed = TRUE,
				processed = summary_processed
			WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("mark category processed: %w", err)
		}

		return nil
	})
}

// FeedFilter selects articles for the feed endpoint.
type FeedFilter struct {
	Category   string
	Limit      int
	Offset     int
	SinceHours int
	HideAds    bool
}

// GetFeed returns processed articles, newest first.
func (db *DB) GetFeed(ctx context.Context, filter FeedFilter) ([]Article, error) {
	defer db.acquireRead(ctx)()

	query := `SELECT DISTINCT ` + articleColumns + `
		FROM articles a
		LEFT JOIN sources s ON s.id = a.source_id`

	var (
		args  []any
		conds []string
	)

	if filter.Category != "" {
		query += `
		JOIN article_categories ac ON ac.article_id = a.id
		JOIN categories c ON c.id = ac.category_id`

		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("c.name = $%d", len(args)))
	}

	if filter.SinceHours > 0 {
		args = append(args, time.Now().UTC().Add(-time.Duration(filter.SinceHours)*time.Hour))
		conds = append(conds, fmt.Sprintf("a.published_at >= $%d", len(args)))
	}

	if filter.HideAds {
		conds = append(conds, "NOT a.is_advertisement")
	}

	query += whereClause(conds)
	query += ` ORDER BY a.published_at DESC`

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return db.queryArticles(ctx, query, args...)
}

// SearchSort selects the search result ordering.
const (
	SearchSortRelevance = "relevance"
	SearchSortDate      = "date"
)

// SearchFilter selects articles for the search endpoint.
type SearchFilter struct {
	Query      string
	Category   string
	SinceHours int
	Sort       string
	Limit      int
	Offset     int
}

// SearchArticles runs full-text search over title, summary and content with
// an ILIKE fallback for queries tsquery cannot parse.
func (db *DB) SearchArticles(ctx context.Context, filter SearchFilter) ([]Article, error) {
	defer db.acquireRead(ctx)()

	args := []any{filter.Query}

	query := `SELECT ` + articleColumns + `
		FROM articles a
		LEFT JOIN sources s ON s.id = a.source_id`

	conds := []string{`(
		to_tsvector('simple', a.title || ' ' || COALESCE(a.summary, '') || ' ' || COALESCE(a.content, ''))
			@@ websearch_to_tsquery('simple', $1)
		OR a.title ILIKE '%' || $1 || '%'
		OR a.summary ILIKE '%' || $1 || '%'
	)`}

	if filter.Category != "" {
		query += `
		JOIN article_categories ac ON ac.article_id = a.id
		JOIN categories c ON c.id = ac.category_id`

		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("c.name = $%d", len(args)))
	}

	if filter.SinceHours > 0 {
		args = append(args, time.Now().UTC().Add(-time.Duration(filter.SinceHours)*time.Hour))
		conds = append(conds, fmt.Sprintf("a.published_at >= $%d", len(args)))
	}

	query += whereClause(conds)

	if filter.Sort == SearchSortDate {
		query += ` ORDER BY a.published_at DESC`
	} else {
		query += ` ORDER BY ts_rank(
			to_tsvector('simple', a.title || ' ' || COALESCE(a.summary, '')),
			websearch_to_tsquery('simple', $1)) DESC, a.published_at DESC`
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return db.queryArticles(ctx, query, args...)
}

// DigestArticle pairs an article with its resolved category for assembly.
type DigestArticle struct {
	Article
	CategoryName string
	Confidence   float32
}

// GetArticlesForDate returns the day's processed non-ad articles with their
// categories, ordered by category then confidence.
func (db *DB) GetArticlesForDate(ctx context.Context, date time.Time) ([]DigestArticle, error) {
	defer db.acquireRead(ctx)()

	query := `SELECT ` + articleColumns + `, c.name, ac.confidence
		FROM articles a
		LEFT JOIN sources s ON s.id = a.source_id
		JOIN article_categories ac ON ac.article_id = a.id
		JOIN categories c ON c.id = ac.category_id
		WHERE a.summary_processed
		  AND NOT a.is_advertisement
		  AND a.published_at >= $1 AND a.published_at < $2
		ORDER BY c.name, ac.confidence DESC, a.published_at DESC`

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	rows, err := db.Pool.Query(ctx, query, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("get articles for date: %w", err)
	}
	defer rows.Close()

	var result []DigestArticle

	for rows.Next() {
		var da DigestArticle

		dest := append(articleScanDests(&da.Article), &da.CategoryName, &da.Confidence)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan digest article: %w", err)
		}

		result = append(result, da)
	}

	return result, rows.Err()
}

func (db *DB) queryArticles(ctx context.Context, query string, args ...any) ([]Article, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []Article

	for rows.Next() {
		var article Article

		if err := rows.Scan(articleScanDests(&article)...); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}

		articles = append(articles, article)
	}

	return articles, rows.Err()
}

// articleScanDests returns scan destinations matching articleColumns order.
func articleScanDests(a *Article) []any {
	return []any{
		&a.ID, &a.SourceID, &a.SourceType, &a.Title, &a.URL,
		&a.Content, &a.Summary, &a.ImageURL, &a.MediaFiles,
		&a.Metadata, &a.PublishedAt, &a.FetchedAt,
		&a.Processed, &a.SummaryProcessed, &a.CategoryProcessed, &a.AdProcessed,
		&a.IsAdvertisement, &a.AdConfidence, &a.AdType, &a.AdReasoning,
		&a.AdMarkers, &a.HashContent,
	}
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}

	out := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}

	return out
}
