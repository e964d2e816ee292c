package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/core"
	"hookrouter/internal/types"
)

var testNow = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)       {}
func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Warn(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (l nopLogger) With(...any) types.Logger { return l }

// recordingMetrics counts WebhookReceived calls by "source/status".
type recordingMetrics struct {
	mu       sync.Mutex
	received map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{received: map[string]int{}}
}

func (m *recordingMetrics) WebhookReceived(_ context.Context, source, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[source+"/"+status]++
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received[key]
}

func (*recordingMetrics) NotificationProcessed(context.Context, types.ChannelType, string)         {}
func (*recordingMetrics) ChannelError(context.Context, types.ChannelType, types.DeliveryErrorKind) {}
func (*recordingMetrics) ObserveDuration(context.Context, types.ChannelType, time.Duration)        {}
func (*recordingMetrics) QueueDepth(context.Context, types.QueueStatus)                            {}

// serve runs one request through a router with register applied.
func serve(t *testing.T, register func(r chi.Router), method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	register(r)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the "data" member of a success envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst), string(env.Data))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}
