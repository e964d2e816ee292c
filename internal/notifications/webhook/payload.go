package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hookrouter/internal/notifications/core"
	"hookrouter/internal/types"
)

// Placeholders recognised inside payloadTemplate string values.
const (
	placeholderTitle = "{{title}}"
	placeholderBody  = "{{body}}"
	placeholderData  = "{{data}}"
)

type notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type defaultPayload struct {
	Notification notification       `json:"notification"`
	Data         map[string]any     `json:"data"`
	Timestamp    string             `json:"timestamp"`
	Attachments  []types.Attachment `json:"attachments,omitempty"`
	Actions      []types.Action     `json:"actions,omitempty"`
}

// buildPayload renders payloadTemplate when present and falls back to the
// default envelope when the template is unusable.
func (c *Channel) buildPayload(content types.MessageContent, cfg map[string]any) ([]byte, error) {
	if tmpl, ok := cfg["payloadTemplate"]; ok && tmpl != nil {
		out, err := renderTemplate(tmpl, content)
		if err == nil {
			return out, nil
		}
		c.logger.Warn("webhook payload template unusable, sending default payload", "error", err.Error())
	}

	p := defaultPayload{
		Notification: notification{Title: content.Title, Body: content.Body},
		Data:         content.Data,
		Timestamp:    c.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	if core.ConfigBool(cfg, "includeMetadata", true) {
		p.Attachments = content.Attachments
		p.Actions = content.Actions
	}
	return json.Marshal(p)
}

// renderTemplate substitutes placeholders in every string of the template.
// A string that is exactly "{{data}}" becomes the data object itself;
// elsewhere placeholders are replaced textually. A template given as a
// string must hold a JSON document.
func renderTemplate(tmpl any, content types.MessageContent) ([]byte, error) {
	if s, ok := tmpl.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, fmt.Errorf("payloadTemplate is not valid JSON: %w", err)
		}
		tmpl = parsed
	}

	dataJSON, err := json.Marshal(content.Data)
	if err != nil {
		return nil, fmt.Errorf("data is not serialisable: %w", err)
	}
	r := strings.NewReplacer(
		placeholderTitle, content.Title,
		placeholderBody, content.Body,
		placeholderData, string(dataJSON),
	)
	return json.Marshal(substitute(tmpl, r, content.Data))
}

func substitute(v any, r *strings.Replacer, data map[string]any) any {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == placeholderData {
			if data == nil {
				return map[string]any{}
			}
			return data
		}
		return r.Replace(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = substitute(item, r, data)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = substitute(item, r, data)
		}
		return out
	default:
		return v
	}
}
