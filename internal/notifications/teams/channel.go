// Package teams delivers notifications to Microsoft Teams through workflow
// (Power Automate) webhooks as Adaptive Cards.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"hookrouter/internal/notifications/core"
	"hookrouter/internal/security"
	"hookrouter/internal/types"
)

const sendTimeout = 15 * time.Second

var _ types.Channel = (*Channel)(nil)

// Channel implements types.Channel for Teams.
type Channel struct {
	httpClient *http.Client
	clock      types.Clock
	logger     types.Logger
}

// NewChannel creates a Teams channel with an SSRF-safe client.
func NewChannel(logger types.Logger) (*Channel, error) {
	client, err := security.NewSafeHTTPClient(sendTimeout, 3)
	if err != nil {
		return nil, fmt.Errorf("teams channel: %w", err)
	}
	return NewChannelWithClient(client, types.RealClock{}, logger), nil
}

// NewChannelWithClient creates a Teams channel with an injected HTTP client.
func NewChannelWithClient(httpClient *http.Client, clock types.Clock, logger types.Logger) *Channel {
	return &Channel{httpClient: httpClient, clock: clock, logger: logger}
}

func (c *Channel) Type() types.ChannelType { return types.ChannelTeams }

// Validate requires an http(s) webhookUrl.
func (c *Channel) Validate(cfg map[string]any) bool {
	u, err := url.Parse(core.ConfigString(cfg, "webhookUrl"))
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// Send posts the card. Workflows answer 202 Accepted on success.
func (c *Channel) Send(ctx context.Context, content types.MessageContent, cfg map[string]any) (*types.DeliveryResult, error) {
	target := core.ConfigString(cfg, "webhookUrl")
	if target == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("missing teams webhookUrl"))
	}
	body, err := json.Marshal(BuildPayload(content))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("teams network error", "error", err.Error())
		return nil, core.TransportError(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodyRead))
	res := core.HTTPResult("teams", resp, raw, c.clock.Now())
	if res.Success {
		res.MessageID = resp.Header.Get("x-ms-workflow-run-id")
	}
	return res, nil
}
