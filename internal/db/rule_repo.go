package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"hookrouter/internal/types"
)

var _ types.RuleStore = (*RuleRepository)(nil)

// RuleRepository stores routing rules in the routing_rules table. Conditions,
// channels and transform are JSONB columns read and written through the
// sql.Scanner/driver.Valuer implementations on the types.
type RuleRepository struct {
	db    DBTX
	clock types.Clock
}

// NewRuleRepository creates a RuleRepository backed by the given connection.
func NewRuleRepository(db DBTX, clock types.Clock) *RuleRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RuleRepository{db: db, clock: clock}
}

const ruleColumns = `id, name, enabled, priority, conditions, channels, transform, created_at, updated_at`

func scanRule(row pgx.Row) (*types.RoutingRule, error) {
	var r types.RoutingRule
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Enabled,
		&r.Priority,
		&r.Conditions,
		&r.Channels,
		&r.Transform,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func ruleNotFound(id string) error {
	return types.NewAppError(types.ErrCodeNotFoundRule, fmt.Sprintf("rule %q not found", id), nil)
}

// prepare mirrors the in-memory store: validate, assign an ID, stamp times.
func (r *RuleRepository) prepare(rule *types.RoutingRule) error {
	if err := types.ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := r.clock.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	return nil
}

func (r *RuleRepository) list(ctx context.Context, where string, args ...any) ([]*types.RoutingRule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM routing_rules `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list rules", err)
	}
	defer rows.Close()

	var out []*types.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan rule row", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating rule rows", err)
	}
	return out, nil
}

// GetRulesForSource pushes the source filter into SQL. conditions->'source'
// is absent for rules that apply everywhere; otherwise it is a JSON array
// that may contain the wildcard.
func (r *RuleRepository) GetRulesForSource(ctx context.Context, source string) ([]*types.RoutingRule, error) {
	return r.list(ctx,
		`WHERE NOT (conditions ? 'source')
		    OR jsonb_typeof(conditions->'source') <> 'array'
		    OR jsonb_array_length(conditions->'source') = 0
		    OR conditions->'source' ? $1
		    OR conditions->'source' ? '*'`,
		source,
	)
}

func (r *RuleRepository) GetAllRules(ctx context.Context) ([]*types.RoutingRule, error) {
	return r.list(ctx, "")
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*types.RoutingRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM routing_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ruleNotFound(id)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get rule", err)
	}
	return rule, nil
}

// Create inserts rule, assigning an ID and timestamps in place.
func (r *RuleRepository) Create(ctx context.Context, rule *types.RoutingRule) error {
	rule.CreatedAt = time.Time{}
	if err := r.prepare(rule); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO routing_rules (`+ruleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rule.ID,
		rule.Name,
		rule.Enabled,
		rule.Priority,
		rule.Conditions,
		rule.Channels,
		rule.Transform,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictRuleExists, fmt.Sprintf("rule %q already exists", rule.ID), nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create rule", err)
	}
	return nil
}

// Update overwrites every mutable column. created_at is read back so the
// caller's copy reflects the stored value.
func (r *RuleRepository) Update(ctx context.Context, rule *types.RoutingRule) error {
	if rule.ID == "" {
		return ruleNotFound(rule.ID)
	}
	if err := r.prepare(rule); err != nil {
		return err
	}
	err := r.db.QueryRow(ctx,
		`UPDATE routing_rules SET
			name = $2,
			enabled = $3,
			priority = $4,
			conditions = $5,
			channels = $6,
			transform = $7,
			updated_at = $8
		 WHERE id = $1
		 RETURNING created_at`,
		rule.ID,
		rule.Name,
		rule.Enabled,
		rule.Priority,
		rule.Conditions,
		rule.Channels,
		rule.Transform,
		rule.UpdatedAt,
	).Scan(&rule.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ruleNotFound(rule.ID)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update rule", err)
	}
	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return ruleNotFound(id)
	}
	return nil
}
