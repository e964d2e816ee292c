package teams

import (
	"fmt"
	"sort"

	"hookrouter/internal/types"
)

const maxFacts = 20

// Payload is the top-level structure for Teams workflow webhook messages.
type Payload struct {
	Type        string       `json:"type"` // "message"
	Attachments []Attachment `json:"attachments"`
}

// Attachment wraps an Adaptive Card for Teams delivery.
type Attachment struct {
	ContentType string       `json:"contentType"` // "application/vnd.microsoft.card.adaptive"
	Content     AdaptiveCard `json:"content"`
}

// AdaptiveCard is the Microsoft Adaptive Card structure.
type AdaptiveCard struct {
	Schema  string         `json:"$schema"`
	Type    string         `json:"type"`    // "AdaptiveCard"
	Version string         `json:"version"` // "1.4"
	Body    []AdaptiveItem `json:"body"`
	Actions []CardAction   `json:"actions,omitempty"`
}

// AdaptiveItem represents an element in the Adaptive Card body.
type AdaptiveItem struct {
	Type   string `json:"type"`             // "TextBlock", "FactSet", "Image"
	Text   string `json:"text,omitempty"`   // For TextBlock
	Size   string `json:"size,omitempty"`   // "Large", "Medium", "Small"
	Weight string `json:"weight,omitempty"` // "Bolder", "Lighter"
	Wrap   bool   `json:"wrap,omitempty"`   // Allow text wrapping
	Facts  []Fact `json:"facts,omitempty"`  // For FactSet
	URL    string `json:"url,omitempty"`    // For Image
}

// Fact is a key-value pair in a Teams FactSet.
type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// CardAction opens a URL.
type CardAction struct {
	Type  string `json:"type"` // "Action.OpenUrl"
	Title string `json:"title"`
	URL   string `json:"url"`
}

// BuildPayload renders content as an Adaptive Card: title, body, a fact set
// from scalar data values and open-URL actions.
func BuildPayload(content types.MessageContent) Payload {
	var body []AdaptiveItem
	if content.Title != "" {
		body = append(body, AdaptiveItem{Type: "TextBlock", Text: content.Title, Size: "Large", Weight: "Bolder", Wrap: true})
	}
	body = append(body, AdaptiveItem{Type: "TextBlock", Text: content.Body, Wrap: true})

	if facts := buildFacts(content.Data); len(facts) > 0 {
		body = append(body, AdaptiveItem{Type: "FactSet", Facts: facts})
	}
	for _, att := range content.Attachments {
		if att.Type == types.AttachmentImage {
			body = append(body, AdaptiveItem{Type: "Image", URL: att.URL})
		}
	}

	var actions []CardAction
	for _, a := range content.Actions {
		if a.URL != "" {
			actions = append(actions, CardAction{Type: "Action.OpenUrl", Title: a.Text, URL: a.URL})
		}
	}

	return Payload{
		Type: "message",
		Attachments: []Attachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: AdaptiveCard{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
				Actions: actions,
			},
		}},
	}
}

// buildFacts lists scalar data values in key order. Nested values are left
// out; they do not render usefully in a fact set.
func buildFacts(data map[string]any) []Fact {
	keys := make([]string, 0, len(data))
	for k, v := range data {
		switch v.(type) {
		case map[string]any, []any, nil:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxFacts {
		keys = keys[:maxFacts]
	}

	facts := make([]Fact, 0, len(keys))
	for _, k := range keys {
		facts = append(facts, Fact{Title: k, Value: fmt.Sprint(data[k])})
	}
	return facts
}
