// Package discord delivers notifications through Discord channel webhooks.
package discord

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

// Channel implements types.Channel for Discord webhooks.
type Channel struct {
	httpClient        *http.Client
	defaultWebhookURL string
	clock             types.Clock
	logger            types.Logger
}

// NewChannel creates a Discord channel. defaultWebhookURL is used for entries
// without their own "webhookUrl".
func NewChannel(defaultWebhookURL string, logger types.Logger) (*Channel, error) {
	client, err := security.NewSafeHTTPClient(sendTimeout, 3)
	if err != nil {
		return nil, fmt.Errorf("discord channel: %w", err)
	}
	return NewChannelWithClient(client, defaultWebhookURL, types.RealClock{}, logger), nil
}

// NewChannelWithClient creates a Discord channel with an injected HTTP client.
func NewChannelWithClient(httpClient *http.Client, defaultWebhookURL string, clock types.Clock, logger types.Logger) *Channel {
	return &Channel{httpClient: httpClient, defaultWebhookURL: defaultWebhookURL, clock: clock, logger: logger}
}

func (c *Channel) Type() types.ChannelType { return types.ChannelDiscord }

func (c *Channel) webhookURL(cfg map[string]any) string {
	if u := core.ConfigString(cfg, "webhookUrl"); u != "" {
		return u
	}
	return c.defaultWebhookURL
}

// Validate requires a webhook URL from the entry or the deployment default.
func (c *Channel) Validate(cfg map[string]any) bool {
	u, err := url.Parse(c.webhookURL(cfg))
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

type webhookResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Message   string `json:"message"`
}

// Send posts with ?wait=true so Discord returns the created message.
func (c *Channel) Send(ctx context.Context, content types.MessageContent, cfg map[string]any) (*types.DeliveryResult, error) {
	target := c.webhookURL(cfg)
	u, err := url.Parse(target)
	if err != nil || target == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("invalid discord webhookUrl"))
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()

	now := c.clock.Now()
	payload := BuildPayload(content, now.UTC().Format(time.RFC3339))
	if name := core.ConfigString(cfg, "username"); name != "" {
		payload.Username = name
	}
	if avatar := core.ConfigString(cfg, "avatarUrl"); avatar != "" {
		payload.AvatarURL = avatar
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("discord network error", "error", err.Error())
		return nil, core.TransportError(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodyRead))
	res := core.HTTPResult("discord", resp, raw, now)

	var parsed webhookResponse
	_ = json.Unmarshal(raw, &parsed)
	if res.Success {
		res.MessageID = parsed.ID
		res.Details["channelId"] = parsed.ChannelID
		res.Details["guildId"] = parsed.GuildID
	} else if parsed.Message != "" {
		res.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, parsed.Message)
	}
	return res, nil
}
