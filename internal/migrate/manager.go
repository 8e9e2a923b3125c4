// Package migrate applies embedded SQL migrations with a checksummed
// version ledger, schema probes for healing, and advisory locking so only
// one instance migrates at a time.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/platform/observability"
	"github.com/lueurxax/newspipe/migrations"
)

// migrationLockID serializes migrators across instances.
const migrationLockID = 1000

// Manager applies the migration registry against one database.
type Manager struct {
	pool       *pgxpool.Pool
	logger     *zerolog.Logger
	migrations []Migration
}

// Result summarizes one Up run.
type Result struct {
	Applied []int64
	Healed  []int64
	Skipped []int64
}

// Status describes one migration for the status endpoint.
type Status struct {
	Version     int64      `json:"version"`
	Description string     `json:"description"`
	Applied     bool       `json:"applied"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
	Satisfied   bool       `json:"satisfied"`
}

func New(pool *pgxpool.Pool, logger *zerolog.Logger) *Manager {
	return &Manager{pool: pool, logger: logger, migrations: Registry()}
}

// Up brings the schema to the latest version. Recorded-and-satisfied
// versions are skipped; recorded-but-unsatisfied versions re-run (healing);
// satisfied-but-unrecorded versions get their ledger row back-filled. The
// first failure rolls back, stops the run and is returned; earlier
// migrations stay applied.
func (m *Manager) Up(ctx context.Context) (*Result, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	defer func() {
		//nolint:errcheck // advisory unlock in defer is best-effort, lock released on connection close anyway
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if err := ensureLedger(ctx, conn); err != nil {
		return nil, err
	}

	recorded, err := recordedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	for _, mig := range m.migrations {
		satisfied, err := mig.Probe(ctx, conn)
		if err != nil {
			return result, err
		}

		_, isRecorded := recorded[mig.Version]

		switch {
		case isRecorded && satisfied:
			result.Skipped = append(result.Skipped, mig.Version)

		case !isRecorded && satisfied:
			if err := m.backfill(ctx, conn, mig); err != nil {
				observability.MigrationDegradedMode.Set(1)
				return result, err
			}

			result.Healed = append(result.Healed, mig.Version)

		default:
			if err := m.apply(ctx, conn, mig); err != nil {
				observability.MigrationDegradedMode.Set(1)
				return result, fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
			}

			if isRecorded {
				result.Healed = append(result.Healed, mig.Version)
			} else {
				result.Applied = append(result.Applied, mig.Version)
			}
		}
	}

	observability.MigrationDegradedMode.Set(0)

	return result, nil
}

// Statuses reports every known migration against the ledger and the live
// schema. Usable even in degraded mode.
func (m *Manager) Statuses(ctx context.Context) ([]Status, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := ensureLedger(ctx, conn); err != nil {
		return nil, err
	}

	appliedAt, err := recordedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(m.migrations))

	for _, mig := range m.migrations {
		satisfied, err := mig.Probe(ctx, conn)
		if err != nil {
			return nil, err
		}

		at, recorded := appliedAt[mig.Version]

		status := Status{
			Version:     mig.Version,
			Description: mig.Description,
			Applied:     recorded,
			Satisfied:   satisfied,
		}
		if recorded {
			status.AppliedAt = &at
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

func (m *Manager) apply(ctx context.Context, conn *pgxpool.Conn, mig Migration) error {
	sql, err := migrations.FS.ReadFile(mig.File)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	m.logger.Info().Int64("version", mig.Version).Str("description", mig.Description).Msg("Applying migration")

	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("exec migration sql: %w", err)
		}

		return recordVersion(ctx, tx, mig.Version, checksum(sql))
	})
}

// backfill records a ledger row for a version whose schema already exists,
// e.g. a database created before the ledger was introduced.
func (m *Manager) backfill(ctx context.Context, conn *pgxpool.Conn, mig Migration) error {
	sql, err := migrations.FS.ReadFile(mig.File)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	m.logger.Info().Int64("version", mig.Version).Msg("Back-filling migration ledger")

	return recordVersion(ctx, conn, mig.Version, checksum(sql))
}

// executor is satisfied by transactions and pooled connections.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func recordVersion(ctx context.Context, ex executor, version int64, sum string) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO schema_migrations (version, checksum)
		VALUES ($1, $2)
		ON CONFLICT (version) DO UPDATE SET applied_at = now(), checksum = EXCLUDED.checksum`,
		version, sum)
	if err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}

	return nil
}

func ensureLedger(ctx context.Context, conn *pgxpool.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version bigint PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now(),
			checksum text NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	return nil
}

func recordedVersions(ctx context.Context, conn *pgxpool.Conn) (map[int64]time.Time, error) {
	rows, err := conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	recorded := make(map[int64]time.Time)

	for rows.Next() {
		var (
			version   int64
			appliedAt time.Time
		)

		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}

		recorded[version] = appliedAt
	}

	return recorded, rows.Err()
}

func checksum(sql []byte) string {
	sum := sha256.Sum256(sql)

	return hex.EncodeToString(sum[:])
}
