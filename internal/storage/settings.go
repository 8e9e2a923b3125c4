package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrSettingNotFound is returned when a settings key has no row.
var ErrSettingNotFound = errors.New("setting not found")

// GetSetting returns the raw JSON value stored under key.
func (db *DB) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte

	err := db.Pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingNotFound
		}

		return nil, fmt.Errorf("get setting: %w", err)
	}

	return value, nil
}

// SetSetting stores a JSON value under key, overwriting any previous value.
func (db *DB) SetSetting(ctx context.Context, key string, value json.RawMessage, description string) error {
	return db.queue.Submit(ctx, ShardSources, "", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO settings (key, value, description, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE settings.description END,
				updated_at = now()`,
			key, value, description)
		if err != nil {
			return fmt.Errorf("set setting: %w", err)
		}

		return nil
	})
}
