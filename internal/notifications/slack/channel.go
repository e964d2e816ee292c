// Package slack delivers notifications to Slack through incoming webhooks or
// the chat.postMessage Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"hookrouter/internal/external"
	"hookrouter/internal/notifications/core"
	"hookrouter/internal/security"
	"hookrouter/internal/types"
)

// Delivery modes selected by the entry's "mode" key.
const (
	ModeWebhook = "webhook"
	ModeAPI     = "api"
)

const sendTimeout = 15 * time.Second

// Poster is the Web API surface used in api mode.
type Poster interface {
	PostMessage(ctx context.Context, token string, payload any) (string, error)
}

var _ Poster = (*external.SlackAPIClient)(nil)

var _ types.Channel = (*Channel)(nil)

// Channel implements types.Channel for Slack.
type Channel struct {
	httpClient *http.Client
	api        Poster
	botToken   string
	clock      types.Clock
	logger     types.Logger
}

// NewChannel creates a Slack channel. api and botToken may be empty, in which
// case only webhook mode validates.
func NewChannel(api Poster, botToken string, logger types.Logger) (*Channel, error) {
	client, err := security.NewSafeHTTPClient(sendTimeout, 3)
	if err != nil {
		return nil, fmt.Errorf("slack channel: %w", err)
	}
	return NewChannelWithClient(client, api, botToken, types.RealClock{}, logger), nil
}

// NewChannelWithClient creates a Slack channel with an injected webhook client.
func NewChannelWithClient(httpClient *http.Client, api Poster, botToken string, clock types.Clock, logger types.Logger) *Channel {
	return &Channel{httpClient: httpClient, api: api, botToken: botToken, clock: clock, logger: logger}
}

func (c *Channel) Type() types.ChannelType { return types.ChannelSlack }

// mode reads "mode", accepting the older "method" key, and defaults to
// webhook.
func mode(cfg map[string]any) string {
	if m := core.ConfigString(cfg, "mode"); m != "" {
		return m
	}
	if m := core.ConfigString(cfg, "method"); m != "" {
		return m
	}
	return ModeWebhook
}

// Validate checks the settings required by the selected mode.
func (c *Channel) Validate(cfg map[string]any) bool {
	switch mode(cfg) {
	case ModeWebhook:
		u, err := url.Parse(core.ConfigString(cfg, "webhookUrl"))
		return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
	case ModeAPI:
		return core.ConfigString(cfg, "channel") != "" && c.api != nil && c.botToken != ""
	default:
		return false
	}
}

// Send posts content as Block Kit.
func (c *Channel) Send(ctx context.Context, content types.MessageContent, cfg map[string]any) (*types.DeliveryResult, error) {
	switch mode(cfg) {
	case ModeWebhook:
		return c.sendWebhook(ctx, content, core.ConfigString(cfg, "webhookUrl"))
	case ModeAPI:
		return c.sendAPI(ctx, content, core.ConfigString(cfg, "channel"))
	default:
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("unknown slack mode %q", mode(cfg)))
	}
}

func (c *Channel) sendWebhook(ctx context.Context, content types.MessageContent, webhookURL string) (*types.DeliveryResult, error) {
	if webhookURL == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("missing slack webhookUrl"))
	}
	body, err := json.Marshal(Payload{Text: fallbackText(content), Blocks: BuildBlocks(content)})
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("slack webhook network error", "error", err.Error())
		return nil, core.TransportError(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodyRead))
	res := core.HTTPResult("slack-webhook", resp, raw, c.clock.Now())
	if res.Success {
		if err := validateWebhookResponse(raw); err != nil {
			c.logger.Warn("slack webhook soft failure", "status", resp.StatusCode, "error", err.Error())
			res.Success = false
			res.Error = err.Error()
			return res, nil
		}
		res.MessageID = resp.Header.Get("X-Slack-Req-Id")
	}
	return res, nil
}

func (c *Channel) sendAPI(ctx context.Context, content types.MessageContent, channel string) (*types.DeliveryResult, error) {
	if c.api == nil || c.botToken == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("slack API client not configured"))
	}
	payload := Payload{Channel: channel, Text: content.Body, Blocks: BuildBlocks(content)}

	ts, err := c.api.PostMessage(ctx, c.botToken, payload)
	if err != nil {
		return nil, types.NewDeliveryError(external.DeliveryKind(err), err)
	}
	return &types.DeliveryResult{
		Success:   true,
		MessageID: ts,
		Provider:  "slack-api",
		Timestamp: c.clock.Now(),
		Details:   map[string]any{"channel": channel},
	}, nil
}
