package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/config"
	"hookrouter/internal/types"
)

type failingRuleStore struct{ types.RuleStore }

func (failingRuleStore) GetAllRules(context.Context) ([]*types.RoutingRule, error) {
	return nil, errors.New("db unreachable")
}

func mountedServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()
	srv, _ := newTestServer(t, mutate)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			Data(w, r, http.StatusOK, map[string]string{"client": types.GetClientKey(r.Context())})
		})
		r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("handler bug") })
	})
	srv.MountRoutes()
	return srv
}

func TestMountRoutes_V1AndHeaders(t *testing.T) {
	srv := mountedServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.RemoteAddr = "198.51.100.4:999"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"client":"ip:198.51.100.4"}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMountRoutes_NotFoundAndMethod(t *testing.T) {
	srv := mountedServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundRoute), decodeError(t, rec).Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/ping", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMountRoutes_PanicRecovered(t *testing.T) {
	srv := mountedServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), decodeError(t, rec).RequestID)
}

func TestMountRoutes_AuthRequiredOutsideLocal(t *testing.T) {
	srv := mountedServer(t, func(cfg *config.Config) {
		cfg.Environment = "prod"
		cfg.Security.APIKeyHashes = []string{hashKey(t, "k")}
	})
	srv.HealthProbes = []HealthProbe{RuleStoreProbe(failingRuleStore{})}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "health skips auth and reports the failing store")
	assert.Contains(t, rec.Body.String(), "db unreachable")
}

func TestNewServer_Errors(t *testing.T) {
	_, err := NewServer(nil, newRecordingLogger())
	assert.Error(t, err)

	_, err = NewServer(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Security.APIKeyHashes = []string{"plain-text"}
	_, err = NewServer(cfg, newRecordingLogger())
	assert.Error(t, err)
}

func TestServer_BodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) { cfg.Server.BodyLimitBytes = 0 })
	assert.Equal(t, int64(DefaultBodyLimit), srv.BodyLimit())

	srv.Config.Server.BodyLimitBytes = 512
	assert.Equal(t, int64(512), srv.BodyLimit())
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	srv := mountedServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
