package discord

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"hookrouter/internal/types"
)

// Discord limits.
const (
	maxFields       = 25
	maxFieldName    = 256
	maxFieldValue   = 1024
	maxTitle        = 256
	maxDescription  = 4096
	maxLinkButtons  = 5
	embedColor      = 0x0099FF
	componentRow    = 1
	componentButton = 2
	buttonStyleLink = 5
)

// Payload is the top-level structure for Discord webhook messages.
type Payload struct {
	Username   string      `json:"username,omitempty"`
	AvatarURL  string      `json:"avatar_url,omitempty"`
	Content    *string     `json:"content"` // null when an embed carries the text
	Embeds     []Embed     `json:"embeds"`
	Components []Component `json:"components,omitempty"`
}

// Embed represents an embed in a Discord webhook message.
type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"` // Decimal color code
	Timestamp   string  `json:"timestamp,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Image       *Image  `json:"image,omitempty"`
}

// Field is a field within a Discord embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Image is an embed image.
type Image struct {
	URL string `json:"url"`
}

// Component is an action row or a button inside one.
type Component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	URL        string      `json:"url,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// BuildPayload renders content as a Discord message. A title moves the body
// into an embed; data keys become inline fields in key order.
func BuildPayload(content types.MessageContent, timestamp string) Payload {
	body := content.Body
	p := Payload{Content: &body, Embeds: []Embed{}}

	if content.Title != "" {
		p.Embeds = append(p.Embeds, Embed{
			Title:       clip(content.Title, maxTitle),
			Description: clip(content.Body, maxDescription),
			Color:       embedColor,
			Timestamp:   timestamp,
		})
		p.Content = nil
	}

	if fields := buildFields(content.Data); len(fields) > 0 {
		if len(p.Embeds) == 0 {
			p.Embeds = append(p.Embeds, Embed{})
		}
		p.Embeds[0].Fields = fields
	}

	if len(p.Embeds) > 0 {
		for _, att := range content.Attachments {
			if att.Type == types.AttachmentImage {
				p.Embeds[0].Image = &Image{URL: att.URL}
				break
			}
		}
	}

	var buttons []Component
	for _, a := range content.Actions {
		if a.URL == "" {
			continue
		}
		buttons = append(buttons, Component{Type: componentButton, Style: buttonStyleLink, Label: a.Text, URL: a.URL})
		if len(buttons) == maxLinkButtons {
			break
		}
	}
	if len(buttons) > 0 {
		p.Components = []Component{{Type: componentRow, Components: buttons}}
	}
	return p
}

func buildFields(data map[string]any) []Field {
	if len(data) == 0 {
		return nil
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxFields {
		keys = keys[:maxFields]
	}

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{
			Name:   clip(k, maxFieldName),
			Value:  clip(fieldValue(data[k]), maxFieldValue),
			Inline: true,
		})
	}
	return fields
}

// fieldValue renders scalars as text and nested values as JSON. Discord
// rejects empty field values.
func fieldValue(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
	case string:
		s = t
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		s = string(b)
	default:
		s = fmt.Sprint(t)
	}
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
