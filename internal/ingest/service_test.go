package ingest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/types"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)       {}
func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Warn(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (l nopLogger) With(...any) types.Logger { return l }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeRouter struct {
	mu     sync.Mutex
	events []*types.Event
	err    error
}

func (r *fakeRouter) RouteEvent(_ context.Context, ev *types.Event) ([]*types.NotificationMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.err != nil {
		return nil, r.err
	}
	return []*types.NotificationMessage{{ID: "m-" + ev.ID}}, nil
}

func (r *fakeRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeArchiver struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (a *fakeArchiver) Archive(_ context.Context, ev *types.Event) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, ev.ID)
	return "events/" + ev.ID, a.err
}

type recordingMetrics struct {
	mu       sync.Mutex
	statuses []string
}

func (m *recordingMetrics) WebhookReceived(_ context.Context, _ string, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) NotificationProcessed(context.Context, types.ChannelType, string)         {}
func (m *recordingMetrics) ChannelError(context.Context, types.ChannelType, types.DeliveryErrorKind) {}
func (m *recordingMetrics) ObserveDuration(context.Context, types.ChannelType, time.Duration)        {}
func (m *recordingMetrics) QueueDepth(context.Context, types.QueueStatus)                            {}

func (m *recordingMetrics) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...)
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := NewService(Config{}, &fakeRouter{}, nil, &recordingMetrics{}, fixedClock{now}, nopLogger{})

	h := http.Header{}
	h.Set("User-Agent", "GitHub-Hookshot/abc")
	h.Set("X-GitHub-Event", "push")
	h.Set("Authorization", "Bearer secret")
	h.Set("X-Webhook-Signature", "sha256=abc")
	h.Set("X-API-Key", "k")

	ev := s.NewEvent("github", nil, h)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, now, ev.ReceivedAt)
	assert.Equal(t, "github", ev.Source)
	assert.NotNil(t, ev.Data)
	assert.Equal(t, map[string]string{
		"user-agent":     "GitHub-Hookshot/abc",
		"x-github-event": "push",
	}, ev.Headers)
}

func TestService_RoutesAndArchives(t *testing.T) {
	router := &fakeRouter{}
	arch := &fakeArchiver{}
	metrics := &recordingMetrics{}
	s := NewService(Config{Workers: 2, Buffer: 8}, router, arch, metrics, nil, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Submit(s.NewEvent("grafana", map[string]any{"n": i}, nil)))
	}
	require.Eventually(t, func() bool { return router.count() == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, arch.ids, 3)
	assert.Equal(t, []string{StatusRouted, StatusRouted, StatusRouted}, metrics.snapshot())
	assert.ErrorIs(t, s.Submit(s.NewEvent("late", nil, nil)), ErrStopped)
}

func TestService_RouteErrorAndArchiveFailure(t *testing.T) {
	router := &fakeRouter{err: errors.New("rule store down")}
	arch := &fakeArchiver{err: errors.New("AccessDenied")}
	metrics := &recordingMetrics{}
	s := NewService(Config{Workers: 1, Buffer: 1}, router, arch, metrics, nil, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, s.Submit(s.NewEvent("github", nil, nil)))
	require.Eventually(t, func() bool { return len(metrics.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusRouteError, metrics.snapshot()[0])
	assert.Equal(t, 1, router.count(), "archive failure does not block routing")
}

func TestService_SubmitBusy(t *testing.T) {
	s := NewService(Config{Workers: 1, Buffer: 1}, &fakeRouter{}, nil, &recordingMetrics{}, nil, nopLogger{})

	require.NoError(t, s.Submit(s.NewEvent("a", nil, nil)))
	assert.ErrorIs(t, s.Submit(s.NewEvent("b", nil, nil)), ErrBusy)
	assert.Equal(t, 1, s.Pending())
}

func TestService_DrainsOnShutdown(t *testing.T) {
	router := &fakeRouter{}
	s := NewService(Config{Workers: 1, Buffer: 4}, router, nil, &recordingMetrics{}, nil, nopLogger{})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Submit(s.NewEvent("a", nil, nil)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 3, router.count())
}

func TestService_EveryAcceptedEventIsRoutedAcrossShutdown(t *testing.T) {
	router := &fakeRouter{}
	s := NewService(Config{Workers: 2, Buffer: 8}, router, nil, &recordingMetrics{}, nil, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := s.Submit(s.NewEvent("a", nil, nil))
				if errors.Is(err, ErrStopped) {
					return
				}
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-runErr)
	wg.Wait()

	assert.ErrorIs(t, s.Submit(s.NewEvent("a", nil, nil)), ErrStopped)
	assert.Positive(t, accepted)
	assert.Equal(t, accepted, router.count())
}
