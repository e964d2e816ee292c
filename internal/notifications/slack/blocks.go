package slack

import (
	"encoding/json"
	"fmt"
	"strings"

	"hookrouter/internal/types"
)

// Block Kit limits.
const (
	maxHeaderText  = 150
	maxSectionText = 3000
	maxActions     = 25
)

// Payload is the top-level structure for Slack Block Kit messages. Channel
// is only set for chat.postMessage.
type Payload struct {
	Channel string  `json:"channel,omitempty"`
	Text    string  `json:"text"`   // Fallback text for push notifications
	Blocks  []Block `json:"blocks"` // Rich layout
}

// Block represents a single block in a Slack Block Kit message.
type Block struct {
	Type     string    `json:"type"` // "header", "section", "actions", "image"
	Text     *Text     `json:"text,omitempty"`
	Elements []Element `json:"elements,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	AltText  string    `json:"alt_text,omitempty"`
}

// Text is a text composition object.
type Text struct {
	Type string `json:"type"` // "plain_text", "mrkdwn"
	Text string `json:"text"`
}

// Element is an interactive element; only link buttons are produced.
type Element struct {
	Type  string `json:"type"`
	Text  *Text  `json:"text"`
	URL   string `json:"url,omitempty"`
	Style string `json:"style,omitempty"`
}

// BuildBlocks renders content as header, section, actions and image blocks.
func BuildBlocks(content types.MessageContent) []Block {
	var blocks []Block

	if content.Title != "" {
		blocks = append(blocks, Block{
			Type: "header",
			Text: &Text{Type: "plain_text", Text: truncate(content.Title, maxHeaderText)},
		})
	}

	blocks = append(blocks, Block{
		Type: "section",
		Text: &Text{Type: "mrkdwn", Text: truncate(content.Body, maxSectionText)},
	})

	var buttons []Element
	for _, a := range content.Actions {
		if a.URL == "" || len(buttons) == maxActions {
			continue
		}
		style := "primary"
		if a.Style == "danger" {
			style = "danger"
		}
		buttons = append(buttons, Element{
			Type:  "button",
			Text:  &Text{Type: "plain_text", Text: a.Text},
			URL:   a.URL,
			Style: style,
		})
	}
	if len(buttons) > 0 {
		blocks = append(blocks, Block{Type: "actions", Elements: buttons})
	}

	for _, att := range content.Attachments {
		if att.Type != types.AttachmentImage {
			continue
		}
		alt := att.Name
		if alt == "" {
			alt = "Image"
		}
		blocks = append(blocks, Block{Type: "image", ImageURL: att.URL, AltText: alt})
	}
	return blocks
}

// fallbackText is shown in notifications and clients without Block Kit.
func fallbackText(content types.MessageContent) string {
	if content.Title == "" {
		return content.Body
	}
	return fmt.Sprintf("*%s*\n%s", content.Title, content.Body)
}

// knownWebhookErrors are the plain-text bodies incoming webhooks use to report
// failures, sometimes alongside HTTP 200.
var knownWebhookErrors = []string{
	"no_text",
	"channel_not_found",
	"channel_is_archived",
	"invalid_payload",
	"too_many_attachments",
	"no_service",
	"invalid_token",
}

// validateWebhookResponse detects Slack's soft failures on 2xx responses.
func validateWebhookResponse(body []byte) error {
	s := strings.TrimSpace(string(body))
	if s == "" || s == "ok" {
		return nil
	}

	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.OK != nil && !*resp.OK {
		if resp.Error == "" {
			resp.Error = "unknown error"
		}
		return fmt.Errorf("slack: API error: %s", resp.Error)
	}

	for _, known := range knownWebhookErrors {
		if s == known {
			return fmt.Errorf("slack: API error: %s", s)
		}
	}
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
