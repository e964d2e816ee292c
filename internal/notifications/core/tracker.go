package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"hookrouter/internal/types"
)

// DefaultTrackerCapacity bounds MemoryTracker when no capacity is given.
const DefaultTrackerCapacity = 10000

var _ types.StatusTracker = (*MemoryTracker)(nil)

// MemoryTracker keeps the latest status of each message in process. Once
// capacity is reached the least recently updated terminal message is
// evicted; non-terminal messages are evicted only when nothing else is left.
type MemoryTracker struct {
	mu       sync.RWMutex
	capacity int
	byID     map[string]*types.NotificationMessage
}

// NewMemoryTracker creates a tracker holding at most capacity messages.
func NewMemoryTracker(capacity int) *MemoryTracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	return &MemoryTracker{capacity: capacity, byID: make(map[string]*types.NotificationMessage)}
}

// copyMessage detaches msg from caller-owned maps and slices.
func copyMessage(msg *types.NotificationMessage) (*types.NotificationMessage, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var out types.NotificationMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *MemoryTracker) Track(_ context.Context, msg *types.NotificationMessage) error {
	if msg == nil || msg.ID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "notification id is required", nil)
	}
	c, err := copyMessage(msg)
	if err != nil {
		return fmt.Errorf("copy notification %s: %w", msg.ID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[c.ID]; !exists && len(t.byID) >= t.capacity {
		t.evictLocked()
	}
	t.byID[c.ID] = c
	return nil
}

// evictLocked removes one message, preferring the stalest terminal one.
func (t *MemoryTracker) evictLocked() {
	var victim *types.NotificationMessage
	for _, m := range t.byID {
		switch {
		case victim == nil:
			victim = m
		case m.Status.State.IsTerminal() != victim.Status.State.IsTerminal():
			if m.Status.State.IsTerminal() {
				victim = m
			}
		case m.UpdatedAt.Before(victim.UpdatedAt):
			victim = m
		}
	}
	if victim != nil {
		delete(t.byID, victim.ID)
	}
}

func (t *MemoryTracker) Get(_ context.Context, id string) (*types.NotificationMessage, error) {
	t.mu.RLock()
	m, ok := t.byID[id]
	t.mu.RUnlock()
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, fmt.Sprintf("notification %q not found", id), nil)
	}
	return copyMessage(m)
}

// ListByEvent returns the messages produced for one event, oldest first.
func (t *MemoryTracker) ListByEvent(_ context.Context, eventID string) ([]*types.NotificationMessage, error) {
	t.mu.RLock()
	var out []*types.NotificationMessage
	for _, m := range t.byID {
		if m.EventID != eventID {
			continue
		}
		c, err := copyMessage(m)
		if err != nil {
			t.mu.RUnlock()
			return nil, err
		}
		out = append(out, c)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteTerminalBefore drops delivered and failed messages last updated
// before cutoff.
func (t *MemoryTracker) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for id, m := range t.byID {
		if m.Status.State.IsTerminal() && m.UpdatedAt.Before(cutoff) {
			delete(t.byID, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of tracked messages.
func (t *MemoryTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
