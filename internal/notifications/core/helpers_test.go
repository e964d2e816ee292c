package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"hookrouter/internal/types"
)

type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time { return c.now }

// mockLogger implements types.Logger and counts warnings and errors.
type mockLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *mockLogger) Debug(msg string, args ...any) {}
func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}
func (l *mockLogger) With(args ...any) types.Logger { return l }

// fakeChannel returns scripted results in order, repeating the last one.
type fakeChannel struct {
	typ     types.ChannelType
	results []*types.DeliveryResult
	errs    []error
	valid   bool
	block   bool

	mu    sync.Mutex
	calls int
}

func newFakeChannel(t types.ChannelType) *fakeChannel {
	return &fakeChannel{typ: t, valid: true}
}

func (f *fakeChannel) Type() types.ChannelType { return f.typ }

func (f *fakeChannel) Validate(map[string]any) bool { return f.valid }

func (f *fakeChannel) Send(ctx context.Context, _ types.MessageContent, _ map[string]any) (*types.DeliveryResult, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var err error
	if len(f.errs) > 0 {
		err = f.errs[min(i, len(f.errs)-1)]
	}
	if err != nil {
		return nil, err
	}
	if len(f.results) == 0 {
		return &types.DeliveryResult{Success: true, Provider: string(f.typ), MessageID: "m-1"}, nil
	}
	return f.results[min(i, len(f.results)-1)], nil
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingMetrics captures every recorder call.
type recordingMetrics struct {
	mu        sync.Mutex
	webhooks  []string
	processed []string // channel:status
	errs      []string // channel:kind
	durations []types.ChannelType
	depths    []types.QueueStatus
}

func (m *recordingMetrics) WebhookReceived(_ context.Context, source, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, source+":"+status)
}

func (m *recordingMetrics) NotificationProcessed(_ context.Context, ch types.ChannelType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, string(ch)+":"+status)
}

func (m *recordingMetrics) ChannelError(_ context.Context, ch types.ChannelType, kind types.DeliveryErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, string(ch)+":"+string(kind))
}

func (m *recordingMetrics) ObserveDuration(_ context.Context, ch types.ChannelType, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, ch)
}

func (m *recordingMetrics) QueueDepth(_ context.Context, s types.QueueStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, s)
}

// recordingTracker stores a copy of the message state on every Track call.
type recordingTracker struct {
	states []types.MessageState
	err    error
}

func (t *recordingTracker) Track(_ context.Context, msg *types.NotificationMessage) error {
	t.states = append(t.states, msg.Status.State)
	return t.err
}

func (t *recordingTracker) Get(context.Context, string) (*types.NotificationMessage, error) {
	return nil, errors.New("not implemented")
}
