package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect establishes a connection pool to the database and returns the pool
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Ping the database to verify connection
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the wharfhook schema and tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS wharfhook`,
		`CREATE TABLE IF NOT EXISTS wharfhook.endpoints (
			id            UUID PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			url           TEXT NOT NULL,
			secret        TEXT NOT NULL,
			event_filter  TEXT[] NOT NULL DEFAULT '{}',
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS wharfhook.deliveries (
			id             UUID PRIMARY KEY,
			endpoint_id    UUID NOT NULL REFERENCES wharfhook.endpoints(id) ON DELETE CASCADE,
			event_type     TEXT NOT NULL,
			payload        JSONB NOT NULL,
			secret_used    TEXT NOT NULL,
			attempts       INT NOT NULL DEFAULT 0,
			state          TEXT NOT NULL DEFAULT 'pending',
			response_code  INT,
			response_body  TEXT,
			last_error     TEXT,
			failed_reason  TEXT,
			next_retry_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			claimed_until  TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_attempt_at TIMESTAMPTZ,
			delivered_at   TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_owner ON wharfhook.endpoints(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_active ON wharfhook.endpoints(active) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_endpoint ON wharfhook.deliveries(endpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON wharfhook.deliveries(next_retry_at) WHERE state = 'pending'`,
	}

	for _, q := range stmts {
		if _, err := pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
