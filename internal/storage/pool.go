// Package storage provides the PostgreSQL fleet state repository.
//
// It manages connection pooling (via pgxpool), transactional multi-row
// transitions for task assignment and scenario disruptions, pg_notify
// fan-out of audit decisions, and query methods for all tables. The Store
// interface it defines is also implemented by the embedded SQLite store in
// the sqlite subpackage.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/telemetry"
)

// DB wraps a pgxpool.Pool for all fleet queries.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*DB)(nil)

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close(_ context.Context) {
	db.pool.Close()
}

// RegisterPoolMetrics exposes pool statistics as OTEL observable gauges.
// Call after telemetry.Init so the global meter provider is in place.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("arcc/storage")
	total, _ := meter.Int64ObservableGauge("arcc.db.pool.connections",
		metric.WithDescription("Total connections in the pool"))
	idle, _ := meter.Int64ObservableGauge("arcc.db.pool.idle",
		metric.WithDescription("Idle connections in the pool"))
	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(total, int64(stat.TotalConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		return nil
	}, total, idle)
	if err != nil {
		db.logger.Warn("storage: register pool metrics", "error", err)
	}
}

// withTx runs fn inside a transaction, committing on success. Serialization
// failures and deadlocks are retried with backoff.
func (db *DB) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	return txRetry.Do(ctx, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin %s tx: %w", op, err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit %s tx: %w", op, err)
		}
		return nil
	}, func(err error, wait time.Duration) {
		db.logger.Debug("storage: retrying tx", "op", op, "wait", wait, "error", err)
	})
}
