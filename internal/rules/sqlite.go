package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hookrouter/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS routing_rules (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL UNIQUE,
	name       TEXT    NOT NULL,
	enabled    INTEGER NOT NULL,
	priority   INTEGER NOT NULL,
	conditions TEXT    NOT NULL,
	channels   TEXT    NOT NULL,
	transform  TEXT,
	created_at TEXT    NOT NULL,
	updated_at TEXT    NOT NULL
);`

const sqliteColumns = `id, name, enabled, priority, conditions, channels, transform, created_at, updated_at`

var _ types.RuleStore = (*SQLiteStore)(nil)

// SQLiteStore persists rules in a single SQLite file using the pure-Go
// modernc driver. Conditions, channels and transform are JSON text columns.
type SQLiteStore struct {
	db    *sql.DB
	clock types.Clock
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string, clock types.Clock) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SQLiteStore{db: db, clock: clock}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func dbError(op string, err error) error {
	return types.NewAppError(types.ErrCodeInternalDB, "sqlite: "+op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*types.RoutingRule, error) {
	var r types.RoutingRule
	var created, updated string
	if err := row.Scan(&r.ID, &r.Name, &r.Enabled, &r.Priority, &r.Conditions, &r.Channels, &r.Transform, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &r, nil
}

func (s *SQLiteStore) list(ctx context.Context) ([]*types.RoutingRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM routing_rules ORDER BY seq`)
	if err != nil {
		return nil, dbError("list rules", err)
	}
	defer rows.Close()

	var out []*types.RoutingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, dbError("scan rule", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list rules", err)
	}
	return out, nil
}

// GetRulesForSource filters in Go; the source condition is JSON and rule
// sets are small.
func (s *SQLiteStore) GetRulesForSource(ctx context.Context, source string) ([]*types.RoutingRule, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.AppliesToSource(source) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SQLiteStore) GetAllRules(ctx context.Context) ([]*types.RoutingRule, error) {
	return s.list(ctx)
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*types.RoutingRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM routing_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound(id)
	}
	if err != nil {
		return nil, dbError("get rule", err)
	}
	return r, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rule *types.RoutingRule) error {
	rule.CreatedAt = time.Time{}
	if err := Prepare(rule, s.clock.Now()); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_rules(`+sqliteColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		rule.ID, rule.Name, rule.Enabled, rule.Priority, rule.Conditions, rule.Channels, rule.Transform,
		rule.CreatedAt.Format(time.RFC3339Nano), rule.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return dbError("insert rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleExists(rule.ID)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, rule *types.RoutingRule) error {
	existing, err := s.GetByID(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.CreatedAt = existing.CreatedAt
	if err := Prepare(rule, s.clock.Now()); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE routing_rules SET name = ?, enabled = ?, priority = ?, conditions = ?, channels = ?, transform = ?, updated_at = ?
		 WHERE id = ?`,
		rule.Name, rule.Enabled, rule.Priority, rule.Conditions, rule.Channels, rule.Transform,
		rule.UpdatedAt.Format(time.RFC3339Nano), rule.ID,
	)
	if err != nil {
		return dbError("update rule", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = ?`, id)
	if err != nil {
		return dbError("delete rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound(id)
	}
	return nil
}
