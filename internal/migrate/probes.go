package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// querier is the subset of pgx used by probes, satisfied by pools,
// connections and transactions alike.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tableExists(table string) Probe {
	return func(ctx context.Context, q querier) (bool, error) {
		var exists bool

		err := q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = current_schema() AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("probe table %s: %w", table, err)
		}

		return exists, nil
	}
}

func columnExists(table, column string) Probe {
	return func(ctx context.Context, q querier) (bool, error) {
		var exists bool

		err := q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
			)`, table, column).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("probe column %s.%s: %w", table, column, err)
		}

		return exists, nil
	}
}

func indexExists(index string) Probe {
	return func(ctx context.Context, q querier) (bool, error) {
		var exists bool

		err := q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_indexes
				WHERE schemaname = current_schema() AND indexname = $1
			)`, index).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("probe index %s: %w", index, err)
		}

		return exists, nil
	}
}

func allOf(probes ...Probe) Probe {
	return func(ctx context.Context, q querier) (bool, error) {
		for _, p := range probes {
			ok, err := p(ctx, q)
			if err != nil || !ok {
				return ok, err
			}
		}

		return true, nil
	}
}
