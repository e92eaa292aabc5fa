package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// MigratePostgres creates the tables if they do not exist yet.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS centers (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    code        TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL DEFAULT '',
    address     TEXT NOT NULL DEFAULT '',
    departments TEXT[] NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS token_counters (
    center_id   TEXT NOT NULL,
    department  TEXT NOT NULL,
    last_number INTEGER NOT NULL CHECK (last_number > 0),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (center_id, department)
);

CREATE TABLE IF NOT EXISTS tokens (
    seq          BIGSERIAL UNIQUE,
    id           UUID PRIMARY KEY,
    center_id    TEXT NOT NULL,
    center_name  TEXT NOT NULL,
    center_code  TEXT NOT NULL,
    center_type  TEXT NOT NULL,
    department   TEXT NOT NULL,
    token_number INTEGER NOT NULL CHECK (token_number > 0),
    user_name    TEXT NOT NULL,
    user_phone   TEXT NOT NULL,
    purpose      TEXT NOT NULL,
    created_by   TEXT,
    status       TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'cleared')),
    created_at   TIMESTAMPTZ NOT NULL,
    approved_at  TIMESTAMPTZ,
    rejected_at  TIMESTAMPTZ,
    cleared_at   TIMESTAMPTZ,
    UNIQUE (center_id, department, token_number)
);

CREATE INDEX IF NOT EXISTS idx_tokens_center_status ON tokens (center_id, status);
CREATE INDEX IF NOT EXISTS idx_tokens_created_by ON tokens (created_by);

CREATE TABLE IF NOT EXISTS qr_codes (
    seq        BIGSERIAL UNIQUE,
    code       TEXT PRIMARY KEY,
    center_id  TEXT NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_qr_codes_center ON qr_codes (center_id);

CREATE TABLE IF NOT EXISTS token_events (
    id         BIGSERIAL PRIMARY KEY,
    event_type TEXT NOT NULL,
    token_id   UUID,
    payload    JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
