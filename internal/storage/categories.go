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
	Category          = domain.Category
	CategoryWithCount = domain.CategoryWithCount
	CategoryMapping   = domain.CategoryMapping
)

// ErrCategoryNotFound is returned when a category lookup finds no row.
var ErrCategoryNotFound = errors.New("category not found")

// EnsureCategories seeds the fixed taxonomy. Existing rows are left alone.
func (db *DB) EnsureCategories(ctx context.Context, names []string) error {
	for _, name := range names {
		_, err := db.Pool.Exec(ctx, `
			INSERT INTO categories (name, display_name)
			VALUES ($1, $1)
			ON CONFLICT (name) DO NOTHING`, name)
		if err != nil {
			return fmt.Errorf("ensure category %s: %w", name, err)
		}
	}

	return nil
}

func (db *DB) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, COALESCE(display_name, name), COALESCE(description, ''), color
		FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category

	for rows.Next() {
		var c Category

		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Description, &c.Color); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}

		categories = append(categories, c)
	}

	return categories, rows.Err()
}

// ListCategoriesWithCounts returns the taxonomy with article counts.
func (db *DB) ListCategoriesWithCounts(ctx context.Context) ([]CategoryWithCount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT c.id, c.name, COALESCE(c.display_name, c.name), COALESCE(c.description, ''), c.color,
			COUNT(ac.article_id)
		FROM categories c
		LEFT JOIN article_categories ac ON ac.category_id = c.id
		GROUP BY c.id
		ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list categories with counts: %w", err)
	}
	defer rows.Close()

	var categories []CategoryWithCount

	for rows.Next() {
		var c CategoryWithCount

		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Description, &c.Color, &c.ArticleCount); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}

		categories = append(categories, c)
	}

	return categories, rows.Err()
}

func (db *DB) GetCategoryByName(ctx context.Context, name string) (*Category, error) {
	var c Category

	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(display_name, name), COALESCE(description, ''), color
		FROM categories WHERE name = $1`, name).
		Scan(&c.ID, &c.Name, &c.DisplayName, &c.Description, &c.Color)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}

		return nil, fmt.Errorf("get category by name: %w", err)
	}

	return &c, nil
}

// CategoryScore is one resolved category with its confidence.
type CategoryScore struct {
	CategoryID int64
	Confidence float32
}

// ReplaceArticleCategories atomically rewrites an article's category links.
func (db *DB) ReplaceArticleCategories(ctx context.Context, articleID int64, scores []CategoryScore) error {
	return db.queue.Submit(ctx, ShardArticles, "", func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM article_categories WHERE article_id = $1`, articleID); err != nil {
			return fmt.Errorf("clear article categories: %w", err)
		}

		for _, s := range scores {
			_, err := tx.Exec(ctx, `
				INSERT INTO article_categories (article_id, category_id, confidence)
				VALUES ($1, $2, $3)
				ON CONFLICT (article_id, category_id) DO UPDATE SET confidence = EXCLUDED.confidence`,
				articleID, s.CategoryID, s.Confidence)
			if err != nil {
				return fmt.Errorf("insert article category: %w", err)
			}
		}

		return nil
	})
}

// GetCategoryMappings returns active AI-label mappings.
func (db *DB) GetCategoryMappings(ctx context.Context) ([]CategoryMapping, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, ai_category, fixed_category, confidence_threshold, COALESCE(description, ''),
			COALESCE(created_by, ''), usage_count, last_used, is_active
		FROM category_mapping
		WHERE is_active
		ORDER BY ai_category`)
	if err != nil {
		return nil, fmt.Errorf("get category mappings: %w", err)
	}
	defer rows.Close()

	var mappings []CategoryMapping

	for rows.Next() {
		var (
			m        CategoryMapping
			lastUsed pgtype.Timestamptz
		)

		err := rows.Scan(&m.ID, &m.AICategory, &m.FixedCategory, &m.ConfidenceThreshold,
			&m.Description, &m.CreatedBy, &m.UsageCount, &lastUsed, &m.IsActive)
		if err != nil {
			return nil, fmt.Errorf("scan category mapping: %w", err)
		}

		m.LastUsed = fromTimestamptzPtr(lastUsed)
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

// RecordMappingUsage bumps usage statistics for a matched mapping.
func (db *DB) RecordMappingUsage(ctx context.Context, mappingID int64, at time.Time) error {
	return db.queue.Submit(ctx, ShardArticles, "mapping_usage", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE category_mapping
			SET usage_count = usage_count + 1, last_used = $2
			WHERE id = $1`, mappingID, at)
		if err != nil {
			return fmt.Errorf("record mapping usage: %w", err)
		}

		return nil
	})
}

// RecordUnmappedCategory stores an unknown AI label for review. The row is
// created inactive so it never participates in resolution until curated.
func (db *DB) RecordUnmappedCategory(ctx context.Context, aiLabel, fallback string) error {
	return db.queue.Submit(ctx, ShardArticles, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO category_mapping (ai_category, fixed_category, confidence_threshold, created_by, is_active)
			VALUES ($1, $2, 0.5, 'pipeline', FALSE)
			ON CONFLICT (ai_category) DO UPDATE SET usage_count = category_mapping.usage_count + 1`,
			SanitizeUTF8(aiLabel), fallback)
		if err != nil {
			return fmt.Errorf("record unmapped category: %w", err)
		}

		return nil
	})
}
