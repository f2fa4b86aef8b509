// Package database manages PostgreSQL connections and provides the quota ledger's
// relational store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// DB wraps the PostgreSQL connection pool and provides query methods.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the ledger tables if they do not exist.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	const migrationLockID int64 = 0x5455_5401 // "TUT" prefix + 01
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	// Dates are ISO days (YYYY-MM-DD) stored as TEXT so range scans compare lexically.
	schema := `
	CREATE TABLE IF NOT EXISTS global_usage (
		date            TEXT PRIMARY KEY,
		total_cost      DOUBLE PRECISION NOT NULL DEFAULT 0,
		question_count  BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS ip_usage (
		ip_address      TEXT NOT NULL,
		date            TEXT NOT NULL,
		question_count  BIGINT NOT NULL DEFAULT 0,
		total_cost      DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ip_address, date)
	);

	CREATE TABLE IF NOT EXISTS user_usage (
		user_id  TEXT NOT NULL,
		date     TEXT NOT NULL,
		count    BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, date)
	);

	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id            TEXT PRIMARY KEY,
		subscription_plan  TEXT NOT NULL DEFAULT 'free'
	);

	CREATE INDEX IF NOT EXISTS idx_ip_usage_date ON ip_usage(date);
	`

	if _, err = conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	log.Info("database: ledger schema ready")
	return nil
}
