package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) a SQLite database file and applies the
// schema. The pool is limited to one connection: SQLite has a single writer
// and one connection makes every transaction serial.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return db, nil
}

// Timestamps are stored as RFC 3339 text with nanoseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS centers (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    code        TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL DEFAULT '',
    address     TEXT NOT NULL DEFAULT '',
    departments TEXT NOT NULL DEFAULT '[]',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS token_counters (
    center_id   TEXT NOT NULL,
    department  TEXT NOT NULL,
    last_number INTEGER NOT NULL CHECK (last_number > 0),
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (center_id, department)
);

CREATE TABLE IF NOT EXISTS tokens (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT NOT NULL UNIQUE,
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
    created_at   TEXT NOT NULL,
    approved_at  TEXT,
    rejected_at  TEXT,
    cleared_at   TEXT,
    UNIQUE (center_id, department, token_number)
);

CREATE INDEX IF NOT EXISTS idx_tokens_center_status ON tokens (center_id, status);
CREATE INDEX IF NOT EXISTS idx_tokens_created_by ON tokens (created_by);

CREATE TABLE IF NOT EXISTS qr_codes (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    code       TEXT NOT NULL UNIQUE,
    center_id  TEXT NOT NULL,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_qr_codes_center ON qr_codes (center_id);

CREATE TABLE IF NOT EXISTS token_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    token_id   TEXT,
    payload    TEXT,
    created_at TEXT NOT NULL
);
`
