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

// Source is an alias for the domain type.
type Source = domain.Source

// ErrSourceNotFound is returned when a source lookup finds no row.
var ErrSourceNotFound = errors.New("source not found")

const sourceColumns = `id, name, source_type, url, enabled, config, fetch_interval,
	last_fetch, last_success, last_error, error_count, created_at`

func (db *DB) CreateSource(ctx context.Context, src *Source) (int64, error) {
	query := `
		INSERT INTO sources (name, source_type, url, enabled, config, fetch_interval)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name, url) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config,
			fetch_interval = EXCLUDED.fetch_interval
		RETURNING id`

	interval := src.FetchInterval
	if interval <= 0 {
		interval = 1800
	}

	var id int64

	err := db.Pool.QueryRow(ctx, query,
		src.Name, src.Type, src.URL, src.Enabled, src.Config, interval,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}

	return id, nil
}

func (db *DB) GetSource(ctx context.Context, id int64) (*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	src, err := scanSource(db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSourceNotFound
		}

		return nil, fmt.Errorf("get source: %w", err)
	}

	return src, nil
}

// ListSources returns all sources; enabledOnly restricts to enabled ones.
func (db *DB) ListSources(ctx context.Context, enabledOnly bool) ([]Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	if enabledOnly {
		query += ` WHERE enabled`
	}

	query += ` ORDER BY id`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source

	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}

		sources = append(sources, *src)
	}

	return sources, rows.Err()
}

// DueSources returns enabled sources whose fetch_interval has elapsed.
func (db *DB) DueSources(ctx context.Context, now time.Time) ([]Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources
		WHERE enabled
		  AND (last_fetch IS NULL OR last_fetch + make_interval(secs => fetch_interval) <= $1)
		ORDER BY id`

	rows, err := db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("due sources: %w", err)
	}
	defer rows.Close()

	var sources []Source

	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}

		sources = append(sources, *src)
	}

	return sources, rows.Err()
}

// MarkSourceSuccess records a successful fetch and clears the error streak.
func (db *DB) MarkSourceSuccess(ctx context.Context, id int64, at time.Time) error {
	return db.queue.Submit(ctx, ShardSources, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE sources
			SET last_fetch = $2, last_success = $2, last_error = '', error_count = 0
			WHERE id = $1`, id, at)
		if err != nil {
			return fmt.Errorf("mark source success: %w", err)
		}

		return nil
	})
}

// MarkSourceError records a failed fetch and bumps the error streak.
func (db *DB) MarkSourceError(ctx context.Context, id int64, at time.Time, msg string) error {
	return db.queue.Submit(ctx, ShardSources, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE sources
			SET last_fetch = $2, last_error = $3, error_count = error_count + 1
			WHERE id = $1`, id, at, SanitizeUTF8(msg))
		if err != nil {
			return fmt.Errorf("mark source error: %w", err)
		}

		return nil
	})
}

// SetSourceEnabled toggles a source without deleting its articles.
func (db *DB) SetSourceEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE sources SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set source enabled: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrSourceNotFound
	}

	return nil
}

func scanSource(row pgx.Row) (*Source, error) {
	var (
		src         Source
		config      []byte
		lastFetch   pgtype.Timestamptz
		lastSuccess pgtype.Timestamptz
		lastError   pgtype.Text
		createdAt   pgtype.Timestamptz
	)

	err := row.Scan(
		&src.ID, &src.Name, &src.Type, &src.URL, &src.Enabled, &config, &src.FetchInterval,
		&lastFetch, &lastSuccess, &lastError, &src.ErrorCount, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	src.Config = config
	src.LastFetch = fromTimestamptzPtr(lastFetch)
	src.LastSuccess = fromTimestamptzPtr(lastSuccess)
	src.LastError = fromText(lastError)
	src.CreatedAt = fromTimestamptz(createdAt)

	return &src, nil
}
