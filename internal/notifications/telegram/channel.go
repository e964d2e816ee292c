// Package telegram delivers notifications through the Telegram Bot API using
// an offline telebot instance (no polling, no getMe at startup).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"hookrouter/internal/notifications/core"
	"hookrouter/internal/types"
)

const provider = "telegram"

var _ types.Channel = (*Channel)(nil)

// Channel implements types.Channel for Telegram.
type Channel struct {
	bot    *tele.Bot
	clock  types.Clock
	logger types.Logger
}

// NewChannel creates a Telegram channel. An empty token yields a channel that
// never validates.
func NewChannel(token string, logger types.Logger) (*Channel, error) {
	if token == "" {
		return NewChannelWithBot(nil, types.RealClock{}, logger), nil
	}
	bot, err := NewBot(token, "")
	if err != nil {
		return nil, err
	}
	return NewChannelWithBot(bot, types.RealClock{}, logger), nil
}

// NewBot builds an offline bot. apiURL overrides the Bot API endpoint when
// non-empty.
func NewBot(token, apiURL string) (*tele.Bot, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

// NewChannelWithBot creates a channel around an existing bot.
func NewChannelWithBot(bot *tele.Bot, clock types.Clock, logger types.Logger) *Channel {
	return &Channel{bot: bot, clock: clock, logger: logger}
}

func (c *Channel) Type() types.ChannelType { return types.ChannelTelegram }

// Validate requires a chat ID and a configured bot.
func (c *Channel) Validate(cfg map[string]any) bool {
	return core.ConfigString(cfg, "chatId") != "" && c.bot != nil
}

// chatRecipient addresses a chat by numeric ID or @username.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

// Send posts content as a single message with an optional inline keyboard.
func (c *Channel) Send(ctx context.Context, content types.MessageContent, cfg map[string]any) (*types.DeliveryResult, error) {
	chatID := core.ConfigString(cfg, "chatId")
	if chatID == "" {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("missing telegram chatId"))
	}
	if c.bot == nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, fmt.Errorf("telegram bot not configured"))
	}
	mode, err := parseMode(core.ConfigString(cfg, "parseMode"))
	if err != nil {
		return nil, types.NewDeliveryError(types.ErrorKindConfig, err)
	}

	opts := &tele.SendOptions{
		ParseMode:             mode,
		DisableWebPagePreview: core.ConfigBool(cfg, "disablePreview", false),
		ReplyMarkup:           keyboard(content.Actions),
	}
	text := FormatText(content, mode)

	// telebot has no context support; honour cancellation around the call.
	type sent struct {
		msg *tele.Message
		err error
	}
	done := make(chan sent, 1)
	go func() {
		msg, err := c.bot.Send(chatRecipient(chatID), text, opts)
		done <- sent{msg, err}
	}()

	var out sent
	select {
	case out = <-done:
	case <-ctx.Done():
		return nil, core.TransportError(ctx.Err())
	}
	if out.err != nil {
		c.logger.Warn("telegram delivery failed", "error", out.err.Error())
		return nil, types.NewDeliveryError(errorKind(out.err), out.err)
	}

	details := map[string]any{"date": out.msg.Unixtime}
	if out.msg.Chat != nil {
		details["chatId"] = out.msg.Chat.ID
	}
	return &types.DeliveryResult{
		Success:   true,
		MessageID: strconv.Itoa(out.msg.ID),
		Provider:  provider,
		Timestamp: c.clock.Now(),
		Details:   details,
	}, nil
}

// parseMode maps the entry's "parseMode" key. Empty means legacy Markdown;
// "none" sends plain text.
func parseMode(s string) (tele.ParseMode, error) {
	switch s {
	case "", "Markdown", "markdown":
		return tele.ModeMarkdown, nil
	case "MarkdownV2", "markdownv2":
		return tele.ModeMarkdownV2, nil
	case "HTML", "html":
		return tele.ModeHTML, nil
	case "none", "text":
		return tele.ModeDefault, nil
	}
	return "", fmt.Errorf("unknown telegram parseMode %q", s)
}

// keyboard renders one row per action: URL actions become link buttons and
// plain buttons become callback buttons carrying Action or Text.
func keyboard(actions []types.Action) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, a := range actions {
		if a.Text == "" {
			continue
		}
		switch {
		case a.URL != "":
			rows = append(rows, rm.Row(tele.Btn{Text: a.Text, URL: a.URL}))
		case a.Type == types.ActionButton:
			data := a.Action
			if data == "" {
				data = a.Text
			}
			rows = append(rows, rm.Row(tele.Btn{Text: a.Text, Data: truncateBytes(data, 64)}))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	rm.Inline(rows...)
	return rm
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// errorKind classifies Bot API failures. Flood control and server-side
// errors are reported as unavailable.
func errorKind(err error) types.DeliveryErrorKind {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return types.ErrorKindUnavailable
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 500 {
		return types.ErrorKindUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrorKindTimeout
	}
	return types.ErrorKindProvider
}
