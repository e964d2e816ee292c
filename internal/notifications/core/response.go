package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hookrouter/internal/security"
	"hookrouter/internal/types"
)

// MaxResponseBodyRead limits how much of a response body adapters read for
// error messages and message ID extraction.
const MaxResponseBodyRead = 4096

// Detail keys set on failed HTTP deliveries.
const (
	DetailStatus     = "status"
	DetailRetryable  = "retryable"
	DetailRetryAfter = "retryAfterSeconds"
)

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// HTTPResult converts a received response into a DeliveryResult. 2xx is a
// success; anything else is a failure whose details say whether the remote
// side asked for a retry (429/5xx) or rejected the request outright.
func HTTPResult(provider string, resp *http.Response, body []byte, now time.Time) *types.DeliveryResult {
	res := &types.DeliveryResult{
		Provider:  provider,
		Timestamp: now,
		Details:   map[string]any{DetailStatus: resp.StatusCode},
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Success = true
		return res
	}

	res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	if b := TruncateBody(body); b != "" {
		res.Error += ": " + b
	}
	res.Details[DetailRetryable] = IsRetryableStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		res.Details[DetailRetryAfter] = int64(ParseRetryAfter(resp.Header.Get("Retry-After"), now).Seconds())
	}
	return res
}

// TransportError labels a failure that produced no HTTP response: blocked
// destinations are config errors, deadlines are timeouts and anything else
// means the remote side was unreachable.
func TransportError(err error) error {
	switch {
	case security.IsSSRFError(err):
		return types.NewDeliveryError(types.ErrorKindConfig, err)
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewDeliveryError(types.ErrorKindTimeout, err)
	default:
		return types.NewDeliveryError(types.ErrorKindUnavailable, err)
	}
}

// ParseRetryAfter extracts the retry delay from a Retry-After header value.
// It supports both seconds and HTTP-date formats and defaults to 60 seconds.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 60 * time.Second
	}
	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds <= 0 {
			return time.Second
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return time.Second
	}
	return 60 * time.Second
}

// TruncateBody returns a shortened response body for error messages.
func TruncateBody(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
