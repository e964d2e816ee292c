// Package email renders notifications as HTML with a plain-text alternative
// and delivers them through an external.EmailProvider (SES or SendGrid).
package email

import (
	"context"
	"fmt"
	"net/mail"

	"hookrouter/internal/external"
	"hookrouter/internal/notifications/core"
	"hookrouter/internal/types"
)

var _ types.Channel = (*Channel)(nil)

// Channel implements types.Channel for email.
type Channel struct {
	provider        external.EmailProvider
	renderer        *Renderer
	defaultFrom     string
	defaultFromName string
	clock           types.Clock
	logger          types.Logger
}

// ChannelConfig holds the dependencies needed to create a Channel.
type ChannelConfig struct {
	// Provider may be nil; the channel then never validates.
	Provider        external.EmailProvider
	DefaultFrom     string
	DefaultFromName string
	Clock           types.Clock
	Logger          types.Logger
}

// NewChannel creates an email channel.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Channel{
		provider:        cfg.Provider,
		renderer:        r,
		defaultFrom:     cfg.DefaultFrom,
		defaultFromName: cfg.DefaultFromName,
		clock:           clock,
		logger:          cfg.Logger,
	}, nil
}

func (c *Channel) Type() types.ChannelType { return types.ChannelEmail }

// Validate requires at least one parseable recipient, a parseable sender
// (from the entry or the service default) and a configured provider.
func (c *Channel) Validate(cfg map[string]any) bool {
	if c.provider == nil {
		return false
	}
	if _, err := parseAddresses(core.ConfigStrings(cfg, "to")); err != nil {
		return false
	}
	_, err := mail.ParseAddress(c.from(cfg))
	return err == nil
}

func (c *Channel) from(cfg map[string]any) string {
	if f := core.ConfigString(cfg, "from"); f != "" {
		return f
	}
	return c.defaultFrom
}

// parseAddresses returns the bare addresses of list, failing on the first
// entry that does not parse or when the list is empty.
func parseAddresses(list []string) ([]string, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		a, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", RedactEmail(s), err)
		}
		out = append(out, a.Address)
	}
	return out, nil
}

// Send renders content and hands it to the provider.
func (c *Channel) Send(ctx context.Context, content types.MessageContent, cfg map[string]any) (*types.DeliveryResult, error) {
	if c.provider == nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("email provider not configured"))
	}
	to, err := parseAddresses(core.ConfigStrings(cfg, "to"))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("to: %w", err))
	}
	from, err := mail.ParseAddress(c.from(cfg))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("from: %w", err))
	}
	var cc []string
	if list := core.ConfigStrings(cfg, "cc"); len(list) > 0 {
		if cc, err = parseAddresses(list); err != nil {
			return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("cc: %w", err))
		}
	}

	rendered, err := c.renderer.Render(content, core.ConfigString(cfg, "subject"))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}

	fromName := core.ConfigString(cfg, "fromName")
	if fromName == "" {
		fromName = from.Name
	}
	if fromName == "" {
		fromName = c.defaultFromName
	}

	input := external.EmailInput{
		From:        from.Address,
		FromName:    fromName,
		To:          to,
		CC:          cc,
		ReplyTo:     core.ConfigString(cfg, "replyTo"),
		Subject:     rendered.Subject,
		HTML:        rendered.BodyHTML,
		Text:        rendered.BodyText,
		ReferenceID: core.ConfigString(cfg, "referenceId"),
	}

	log := c.logger.With("provider", c.provider.Name(), "dest", RedactList(to))
	id, err := c.provider.Send(ctx, input)
	if err != nil {
		log.Warn("email delivery failed", "error", err.Error())
		return nil, types.NewDeliveryError(external.DeliveryKind(err), err)
	}
	log.Debug("email delivered", "message_id", id)

	return &types.DeliveryResult{
		Success:   true,
		MessageID: id,
		Provider:  c.provider.Name(),
		Timestamp: c.clock.Now(),
		Details:   map[string]any{"recipients": len(to) + len(cc)},
	}, nil
}
