// Package db provides PostgreSQL database access for newspipe.
//
// This package contains:
//   - DB: Connection pool and query interface wrapper
//   - Repository methods for all domain entities (sources, articles, categories, etc.)
//   - Queue: per-shard serialized writes with deadlock retry and backpressure
//   - Type conversions between Go and PostgreSQL types
//
// The package uses pgx for connection pooling. Schema management lives in
// the migrate package; DB.Migrate delegates to it.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lueurxax/newspipe/internal/migrate"
)

// DB wraps a PostgreSQL connection pool and provides repository methods
// for all domain entities.
type DB struct {
	Pool   *pgxpool.Pool
	Logger *zerolog.Logger

	queue   *Queue
	readSem chan struct{}
}

// acquireRead bounds concurrent heavy reads so list queries cannot starve
// the pool. Best-effort under cancellation; the query itself still honors ctx.
func (db *DB) acquireRead(ctx context.Context) func() {
	select {
	case db.readSem <- struct{}{}:
		return func() { <-db.readSem }
	case <-ctx.Done():
		return func() {}
	}
}

// PoolOptions configures the database connection pool.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolOptions returns sensible default pool configuration.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          defaultMaxConns,
		MinConns:          defaultMinConns,
		MaxConnIdleTime:   defaultMaxConnIdleTime,
		MaxConnLifetime:   defaultMaxConnLifetime,
		HealthCheckPeriod: defaultHealthCheckPeriod,
	}
}

// New creates a new database connection with default pool options.
func New(ctx context.Context, dsn string, logger *zerolog.Logger) (*DB, error) {
	return NewWithOptions(ctx, dsn, DefaultPoolOptions(), logger)
}

// NewWithOptions creates a new database connection with custom pool options.
func NewWithOptions(ctx context.Context, dsn string, opts PoolOptions, logger *zerolog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	applyPoolOptions(config, opts)

	return connectWithRetries(ctx, config, logger)
}

// applyPoolOptions applies non-zero pool options to the config.
func applyPoolOptions(config *pgxpool.Config, opts PoolOptions) {
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}

	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}

	if opts.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = opts.HealthCheckPeriod
	}
}

// connectWithRetries attempts to connect to the database with retries.
func connectWithRetries(ctx context.Context, config *pgxpool.Config, logger *zerolog.Logger) (*DB, error) {
	var pool *pgxpool.Pool

	var err error

	for i := 0; i < maxConnectionRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				database := &DB{
					Pool:    pool,
					Logger:  logger,
					readSem: make(chan struct{}, maxConcurrentReads),
				}
				database.queue = newQueue(database, DefaultQueueOptions())

				return database, nil
			}
		}

		if pool != nil {
			pool.Close()
		}

		time.Sleep(ConnectionRetrySleep)
	}

	return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
}

// Ping checks database connectivity for readiness probes.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Queue returns the serialized write queue for this database.
func (db *DB) Queue() *Queue {
	return db.queue
}

// WaitReady blocks until the write queue backlog drains below its
// resume threshold. Ingest calls this before submitting new articles.
func (db *DB) WaitReady(ctx context.Context) error {
	return db.queue.WaitReady(ctx)
}

// Close stops the write queue and closes the connection pool.
func (db *DB) Close() {
	if db.queue != nil {
		db.queue.Close()
	}

	db.Pool.Close()
}

// Migrate brings the schema up to date. It delegates to the migration
// manager, which owns the advisory lock and the version ledger.
func (db *DB) Migrate(ctx context.Context) error {
	manager := migrate.New(db.Pool, db.Logger)

	result, err := manager.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if len(result.Applied) > 0 {
		db.Logger.Info().Ints64("versions", result.Applied).Msg("Applied migrations")
	}

	return nil
}
