package teams

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/types"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)       {}
func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Warn(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (l nopLogger) With(...any) types.Logger { return l }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestBuildPayload(t *testing.T) {
	p := BuildPayload(types.MessageContent{
		Title:       "Payment failed",
		Body:        "invoice 77 declined",
		Data:        map[string]any{"amount": 12.5, "customer": "acme", "meta": map[string]any{"x": 1}},
		Actions:     []types.Action{{Type: types.ActionLink, Text: "Open", URL: "https://pay.example.com/77"}},
		Attachments: []types.Attachment{{Type: types.AttachmentImage, URL: "https://img.example.com/c.png"}},
	})

	assert.Equal(t, "message", p.Type)
	require.Len(t, p.Attachments, 1)
	card := p.Attachments[0].Content
	assert.Equal(t, "AdaptiveCard", card.Type)
	assert.Equal(t, "1.4", card.Version)

	require.Len(t, card.Body, 4)
	assert.Equal(t, "Payment failed", card.Body[0].Text)
	assert.Equal(t, "Bolder", card.Body[0].Weight)
	assert.Equal(t, "invoice 77 declined", card.Body[1].Text)
	assert.Equal(t, []Fact{{Title: "amount", Value: "12.5"}, {Title: "customer", Value: "acme"}}, card.Body[2].Facts)
	assert.Equal(t, "Image", card.Body[3].Type)

	require.Len(t, card.Actions, 1)
	assert.Equal(t, "Action.OpenUrl", card.Actions[0].Type)
}

func TestSend(t *testing.T) {
	var got Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ch := NewChannelWithClient(server.Client(), fixedClock{}, nopLogger{})
	require.True(t, ch.Validate(map[string]any{"webhookUrl": server.URL}))
	assert.False(t, ch.Validate(map[string]any{}))

	res, err := ch.Send(context.Background(), types.MessageContent{Body: "hello"}, map[string]any{"webhookUrl": server.URL})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "teams", res.Provider)
	assert.Equal(t, "hello", got.Attachments[0].Content.Body[0].Text)
}

func TestSend_Throttled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ch := NewChannelWithClient(server.Client(), fixedClock{time.Now()}, nopLogger{})
	res, err := ch.Send(context.Background(), types.MessageContent{Body: "hello"}, map[string]any{"webhookUrl": server.URL})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, true, res.Details["retryable"])
	assert.Equal(t, int64(10), res.Details["retryAfterSeconds"])
}
