package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open returns a PostgreSQL run store for dsn, creating its table, or an
// in-memory store when dsn is empty. closeFn releases the pool.
func Open(ctx context.Context, dsn string) (store RunStore, closeFn func(), err error) {
	if dsn == "" {
		return NewMemoryRunStore(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg := NewPostgresRunStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return pg, pool.Close, nil
}
