package routing

import (
	"context"
	"sync"
	"time"

	"hookrouter/internal/types"
)

// mockClock returns a fixed instant.
type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time { return c.now }

// testLogger implements types.Logger and records messages per level.
type testLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func newTestLogger() *testLogger { return &testLogger{} }

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}
func (l *testLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *testLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}
func (l *testLogger) With(args ...any) types.Logger { return l }

func (l *testLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// fakeRuleStore serves a fixed rule list, filtered by source like the real
// stores do.
type fakeRuleStore struct {
	rules []*types.RoutingRule
	err   error
}

func (s *fakeRuleStore) GetRulesForSource(_ context.Context, source string) ([]*types.RoutingRule, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*types.RoutingRule
	for _, r := range s.rules {
		if r.AppliesToSource(source) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) GetAllRules(context.Context) ([]*types.RoutingRule, error) {
	return s.rules, s.err
}

func (s *fakeRuleStore) GetByID(_ context.Context, id string) (*types.RoutingRule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
}

func (s *fakeRuleStore) Create(_ context.Context, r *types.RoutingRule) error {
	s.rules = append(s.rules, r)
	return nil
}

func (s *fakeRuleStore) Update(context.Context, *types.RoutingRule) error { return nil }
func (s *fakeRuleStore) Delete(context.Context, string) error             { return nil }

// enqueueCall records one Enqueue invocation.
type enqueueCall struct {
	msg      *types.NotificationMessage
	priority int
}

// captureQueue records enqueued messages and can fail selected calls.
type captureQueue struct {
	mu     sync.Mutex
	calls  []enqueueCall
	failOn map[int]error // call index -> error
}

func (q *captureQueue) Enqueue(_ context.Context, msg *types.NotificationMessage, priority int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := len(q.calls)
	q.calls = append(q.calls, enqueueCall{msg: msg, priority: priority})
	if err, ok := q.failOn[idx]; ok {
		return "", err
	}
	return "job-" + msg.ID, nil
}

func newEvent(source string, data map[string]any) *types.Event {
	return &types.Event{
		ID:         "evt-1",
		ReceivedAt: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		Source:     source,
		Data:       data,
	}
}
