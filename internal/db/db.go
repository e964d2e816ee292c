// Package db provides PostgreSQL-backed repositories for routing rules and
// notification status. Repositories accept a DBTX interface that is
// satisfied by both *pgxpool.Pool and pgx.Tx, so the same code works inside
// or outside a transaction.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the tables used by this package. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS routing_rules (
	seq        BIGSERIAL   NOT NULL,
	id         TEXT        PRIMARY KEY,
	name       TEXT        NOT NULL,
	enabled    BOOLEAN     NOT NULL DEFAULT TRUE,
	priority   INTEGER     NOT NULL DEFAULT 0,
	conditions JSONB       NOT NULL DEFAULT '{}'::jsonb,
	channels   JSONB       NOT NULL DEFAULT '[]'::jsonb,
	transform  JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_routing_rules_seq ON routing_rules (seq);

CREATE TABLE IF NOT EXISTS notification_messages (
	id         TEXT        PRIMARY KEY,
	webhook_id TEXT        NOT NULL,
	priority   TEXT        NOT NULL,
	state      TEXT        NOT NULL,
	channels   JSONB       NOT NULL DEFAULT '[]'::jsonb,
	content    JSONB       NOT NULL,
	metadata   JSONB       NOT NULL DEFAULT '{}'::jsonb,
	status     JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_messages_webhook ON notification_messages (webhook_id);
CREATE INDEX IF NOT EXISTS idx_notification_messages_state ON notification_messages (state, updated_at);
`

// Open creates a connection pool and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
