package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hookrouter/internal/security"
	"hookrouter/internal/types"
)

func TestHTTPResult(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		status        int
		header        http.Header
		body          string
		wantSuccess   bool
		wantRetryable any
		wantErr       string
	}{
		{"ok", 200, nil, "", true, nil, ""},
		{"accepted", 202, nil, "", true, nil, ""},
		{"bad request", 400, nil, "missing field", false, false, "HTTP 400: missing field"},
		{"gone", 410, nil, "", false, false, "HTTP 410"},
		{"rate limited", 429, http.Header{"Retry-After": []string{"30"}}, "", false, true, "HTTP 429"},
		{"server error", 503, nil, "down", false, true, "HTTP 503: down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			res := HTTPResult("webhook", &http.Response{StatusCode: tt.status, Header: h}, []byte(tt.body), now)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.status, res.Details[DetailStatus])
			assert.Equal(t, tt.wantRetryable, res.Details[DetailRetryable])
			assert.Equal(t, tt.wantErr, res.Error)
			assert.Equal(t, "webhook", res.Provider)
			assert.Equal(t, now, res.Timestamp)
		})
	}
}

func TestHTTPResult_RetryAfterDetail(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"30"}}}
	res := HTTPResult("discord", resp, nil, time.Now())
	assert.Equal(t, int64(30), res.Details[DetailRetryAfter])
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 60*time.Second, ParseRetryAfter("", now))
	assert.Equal(t, 60*time.Second, ParseRetryAfter("soon", now))
	assert.Equal(t, 120*time.Second, ParseRetryAfter("120", now))
	assert.Equal(t, time.Second, ParseRetryAfter("0", now))

	future := now.Add(90 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 90*time.Second, ParseRetryAfter(future, now))

	past := now.Add(-time.Minute).Format(http.TimeFormat)
	assert.Equal(t, time.Second, ParseRetryAfter(past, now))
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", TruncateBody([]byte("  short\n")))
	long := TruncateBody([]byte(strings.Repeat("x", 500)))
	assert.Len(t, long, 203)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestConfigAccessors(t *testing.T) {
	cfg := map[string]any{
		"url":     " https://example.com ",
		"chatId":  float64(-100123),
		"timeout": float64(1500),
		"yamlInt": 42,
		"strInt":  "7",
		"to":      "a@x.io, b@x.io",
		"cc":      []any{"c@x.io", 5, ""},
		"enabled": "false",
		"headers": map[string]any{"X-A": "1"},
		"strMap":  map[string]string{"X-B": "2"},
	}

	assert.Equal(t, "https://example.com", ConfigString(cfg, "url"))
	assert.Equal(t, "-100123", ConfigString(cfg, "chatId"))
	assert.Equal(t, "", ConfigString(cfg, "missing"))

	n, ok := ConfigInt(cfg, "timeout")
	assert.True(t, ok)
	assert.Equal(t, int64(1500), n)
	n, _ = ConfigInt(cfg, "yamlInt")
	assert.Equal(t, int64(42), n)
	n, _ = ConfigInt(cfg, "strInt")
	assert.Equal(t, int64(7), n)
	_, ok = ConfigInt(cfg, "url")
	assert.False(t, ok)

	assert.Equal(t, []string{"a@x.io", "b@x.io"}, ConfigStrings(cfg, "to"))
	assert.Equal(t, []string{"c@x.io"}, ConfigStrings(cfg, "cc"))
	assert.Nil(t, ConfigStrings(cfg, "missing"))

	assert.False(t, ConfigBool(cfg, "enabled", true))
	assert.True(t, ConfigBool(cfg, "missing", true))

	assert.Equal(t, "1", ConfigMap(cfg, "headers")["X-A"])
	assert.Equal(t, "2", ConfigMap(cfg, "strMap")["X-B"])
	assert.Nil(t, ConfigMap(cfg, "url"))
}

func TestTransportError(t *testing.T) {
	blocked := fmt.Errorf("dial: %w", security.ErrSSRFBlocked)
	assert.Equal(t, types.ErrorKindConfig, types.ErrorKindOf(TransportError(blocked)))
	assert.Equal(t, types.ErrorKindTimeout, types.ErrorKindOf(TransportError(context.DeadlineExceeded)))
	assert.Equal(t, types.ErrorKindUnavailable, types.ErrorKindOf(TransportError(errors.New("connection refused"))))
	assert.ErrorIs(t, TransportError(blocked), security.ErrSSRFBlocked)
}
