// Package sms delivers notifications as text messages through an
// external.SMSProvider.
package sms

import (
	"context"
	"fmt"

	"hookrouter/internal/external"
	"hookrouter/internal/notifications/core"
	"hookrouter/internal/types"
)

// MaxBodyLength is the concatenated-SMS ceiling accepted by Twilio.
const MaxBodyLength = 1600

var _ types.Channel = (*Channel)(nil)

// Channel implements types.Channel for SMS.
type Channel struct {
	provider    external.SMSProvider
	defaultFrom string
	clock       types.Clock
	logger      types.Logger
}

// NewChannel creates an SMS channel. provider may be nil, in which case the
// channel never validates.
func NewChannel(provider external.SMSProvider, defaultFrom string, clock types.Clock, logger types.Logger) *Channel {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Channel{provider: provider, defaultFrom: defaultFrom, clock: clock, logger: logger}
}

func (c *Channel) Type() types.ChannelType { return types.ChannelSMS }

// Validate requires a recipient and a configured provider matching the
// entry's optional "provider" key.
func (c *Channel) Validate(cfg map[string]any) bool {
	if core.ConfigString(cfg, "to") == "" || c.provider == nil {
		return false
	}
	if p := core.ConfigString(cfg, "provider"); p != "" && p != c.provider.Name() {
		return false
	}
	return true
}

// Send formats content into a single text and hands it to the provider.
func (c *Channel) Send(ctx context.Context, content types.MessageContent, cfg map[string]any) (*types.DeliveryResult, error) {
	to := core.ConfigString(cfg, "to")
	if to == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("missing sms recipient"))
	}
	if c.provider == nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("sms provider not configured"))
	}
	if p := core.ConfigString(cfg, "provider"); p != "" && p != c.provider.Name() {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("unsupported sms provider %q", p))
	}
	from := core.ConfigString(cfg, "from")
	if from == "" {
		from = c.defaultFrom
	}
	if from == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("missing sms sender number"))
	}

	id, err := c.provider.Send(ctx, external.SMSInput{From: from, To: to, Body: FormatBody(content)})
	if err != nil {
		c.logger.Warn("sms delivery failed", "provider", c.provider.Name(), "error", err.Error())
		return nil, types.NewDeliveryError(external.DeliveryKind(err), err)
	}
	return &types.DeliveryResult{
		Success:   true,
		MessageID: id,
		Provider:  c.provider.Name(),
		Timestamp: c.clock.Now(),
	}, nil
}

// FormatBody joins title and body, appends the first linked action and
// truncates to MaxBodyLength characters.
func FormatBody(content types.MessageContent) string {
	body := content.Body
	if content.Title != "" {
		body = content.Title + "\n\n" + body
	}
	for _, a := range content.Actions {
		if a.URL != "" {
			body += "\n\n" + a.Text + ": " + a.URL
			break
		}
	}

	runes := []rune(body)
	if len(runes) > MaxBodyLength {
		return string(runes[:MaxBodyLength-3]) + "..."
	}
	return body
}
