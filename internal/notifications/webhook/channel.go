// Package webhook implements the generic HTTP delivery channel.
//
// Payloads are JSON, optionally shaped by a per-entry template, signed with
// HMAC-SHA256 when a signatureKey is configured, and sent through an
// SSRF-guarded client since destinations are customer supplied.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hookrouter/internal/notifications/core"
	"hookrouter/internal/security"
	"hookrouter/internal/types"
)

const (
	// DefaultTimeout applies when an entry sets no "timeout".
	DefaultTimeout = 30 * time.Second

	// MaxRedirects followed per delivery.
	MaxRedirects = 3

	provider  = "webhook"
	userAgent = "HookRouter-Webhook/1.0"
)

var allowedMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Compile-time assertion that Channel implements types.Channel.
var _ types.Channel = (*Channel)(nil)

// Channel delivers content to arbitrary HTTP endpoints.
type Channel struct {
	httpClient *http.Client
	logger     types.Logger
	clock      types.Clock
}

// NewChannel creates a Channel backed by an SSRF-safe HTTP client. The
// client has no overall timeout; each send is bounded by the entry's
// "timeout" instead.
func NewChannel(logger types.Logger) (*Channel, error) {
	client, err := security.NewSafeHTTPClient(0, MaxRedirects)
	if err != nil {
		return nil, fmt.Errorf("webhook channel: failed to create safe HTTP client: %w", err)
	}
	return NewChannelWithClient(client, types.RealClock{}, logger), nil
}

// NewChannelWithClient creates a Channel with a caller-supplied HTTP client.
// Tests use it to reach httptest servers on loopback.
func NewChannelWithClient(client *http.Client, clock types.Clock, logger types.Logger) *Channel {
	return &Channel{httpClient: client, logger: logger, clock: clock}
}

// Type returns the channel type identifier for webhooks.
func (c *Channel) Type() types.ChannelType {
	return types.ChannelWebhook
}

// Validate requires an absolute http(s) URL and, when set, a supported
// method and auth type.
func (c *Channel) Validate(cfg map[string]any) bool {
	raw := core.ConfigString(cfg, "url")
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if m := core.ConfigString(cfg, "method"); m != "" && !allowedMethods[strings.ToUpper(m)] {
		return false
	}
	if auth := core.ConfigMap(cfg, "auth"); auth != nil {
		switch core.ConfigString(auth, "type") {
		case "bearer", "basic", "apikey":
		default:
			return false
		}
	}
	return true
}

// Send builds the payload and performs the request.
//
// Response handling:
//   - 2xx: success
//   - 429 and 5xx: failure the remote side may recover from
//   - other 4xx: failure that repeats until the config changes
//
// Transport errors (DNS, SSRF blocks, timeouts) come back as a labelled
// *types.DeliveryError and no result.
func (c *Channel) Send(ctx context.Context, content types.MessageContent, cfg map[string]any) (*types.DeliveryResult, error) {
	destination := core.ConfigString(cfg, "url")
	if destination == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("missing webhook url"))
	}

	payload, err := c.buildPayload(content, cfg)
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}

	timeout := DefaultTimeout
	if ms, ok := core.ConfigInt(cfg, "timeout"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(core.ConfigString(cfg, "method"))
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, destination, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	for k, v := range core.ConfigMap(cfg, "headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
	applyAuth(req, core.ConfigMap(cfg, "auth"))
	if key := core.ConfigString(cfg, "signatureKey"); key != "" {
		req.Header.Set(security.SignatureHeader, security.Sign(payload, key))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if security.IsSSRFError(err) {
			c.logger.Error("webhook SSRF blocked", "destination", destination, "error", err.Error())
		} else {
			c.logger.Warn("webhook network error", "destination", destination, "error", err.Error())
		}
		return nil, core.TransportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodyRead))
	res := core.HTTPResult(provider, resp, body, c.clock.Now())
	if res.Success {
		res.MessageID = resp.Header.Get("X-Request-Id")
		c.logger.Debug("webhook delivered", "destination", destination, "status", resp.StatusCode)
	} else {
		c.logger.Warn("webhook rejected", "destination", destination, "status", resp.StatusCode, "body", core.TruncateBody(body))
	}
	return res, nil
}

func applyAuth(req *http.Request, auth map[string]any) {
	if auth == nil {
		return
	}
	switch core.ConfigString(auth, "type") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+core.ConfigString(auth, "token"))
	case "basic":
		req.SetBasicAuth(core.ConfigString(auth, "username"), core.ConfigString(auth, "password"))
	case "apikey":
		header := core.ConfigString(auth, "header")
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, core.ConfigString(auth, "key"))
	}
}
