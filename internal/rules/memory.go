// Package rules provides RuleStore backends: an in-memory store, a YAML or
// JSON rule file with hot reload, and a SQLite store. The Postgres backend
// lives in internal/db.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hookrouter/internal/types"
)

var _ types.RuleStore = (*MemoryStore)(nil)

// MemoryStore keeps rules in insertion order behind an RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*types.RoutingRule
	clock types.Clock
}

// NewMemoryStore creates a store seeded with rules. Seeds are validated like
// Create input.
func NewMemoryStore(clock types.Clock, seed ...*types.RoutingRule) (*MemoryStore, error) {
	if clock == nil {
		clock = types.RealClock{}
	}
	s := &MemoryStore{byID: make(map[string]*types.RoutingRule), clock: clock}
	if err := s.Replace(seed); err != nil {
		return nil, err
	}
	return s, nil
}

// Prepare validates r structurally and fills in a missing ID and the
// timestamps. Every backend runs it before writing.
func Prepare(r *types.RoutingRule, now time.Time) error {
	if err := types.ValidateRule(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return nil
}

// clone copies r deeply enough that callers cannot mutate stored state
// through slices.
func clone(r *types.RoutingRule) *types.RoutingRule {
	c := *r
	c.Channels = append(types.ChannelList(nil), r.Channels...)
	c.Conditions.Source = append(types.SourceMatcher(nil), r.Conditions.Source...)
	c.Conditions.Keywords = append([]string(nil), r.Conditions.Keywords...)
	if r.Conditions.TimeWindow != nil {
		tw := *r.Conditions.TimeWindow
		c.Conditions.TimeWindow = &tw
	}
	if r.Transform != nil {
		t := *r.Transform
		c.Transform = &t
	}
	return &c
}

// ErrRuleNotFound builds the not-found error shared by every backend.
func ErrRuleNotFound(id string) error {
	return types.NewAppError(types.ErrCodeNotFoundRule, fmt.Sprintf("rule %q not found", id), nil)
}

// ErrRuleExists builds the conflict error shared by every backend.
func ErrRuleExists(id string) error {
	return types.NewAppError(types.ErrCodeConflictRuleExists, fmt.Sprintf("rule %q already exists", id), nil)
}

// Replace swaps the whole rule set atomically. Rules without an ID get one.
func (s *MemoryStore) Replace(rules []*types.RoutingRule) error {
	now := s.clock.Now()
	order := make([]string, 0, len(rules))
	byID := make(map[string]*types.RoutingRule, len(rules))
	for _, r := range rules {
		c := clone(r)
		if err := Prepare(c, now); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if _, dup := byID[c.ID]; dup {
			return ErrRuleExists(c.ID)
		}
		byID[c.ID] = c
		order = append(order, c.ID)
	}

	s.mu.Lock()
	s.order, s.byID = order, byID
	s.mu.Unlock()
	return nil
}

// GetRulesForSource returns rules whose source condition matches source,
// including rules without a source condition.
func (s *MemoryStore) GetRulesForSource(_ context.Context, source string) ([]*types.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.RoutingRule
	for _, id := range s.order {
		if r := s.byID[id]; r.AppliesToSource(source) {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAllRules(context.Context) ([]*types.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.RoutingRule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.byID[id]))
	}
	return out, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*types.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrRuleNotFound(id)
	}
	return clone(r), nil
}

// Create stores rule. rule is updated in place with the assigned ID and
// timestamps.
func (s *MemoryStore) Create(_ context.Context, rule *types.RoutingRule) error {
	rule.CreatedAt = time.Time{}
	if err := Prepare(rule, s.clock.Now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[rule.ID]; dup {
		return ErrRuleExists(rule.ID)
	}
	s.byID[rule.ID] = clone(rule)
	s.order = append(s.order, rule.ID)
	return nil
}

// Update replaces an existing rule, keeping its position and CreatedAt.
func (s *MemoryStore) Update(_ context.Context, rule *types.RoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[rule.ID]
	if !ok || rule.ID == "" {
		return ErrRuleNotFound(rule.ID)
	}
	rule.CreatedAt = old.CreatedAt
	if err := Prepare(rule, s.clock.Now()); err != nil {
		return err
	}
	s.byID[rule.ID] = clone(rule)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrRuleNotFound(id)
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len reports the number of stored rules.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
