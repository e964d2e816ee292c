package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hookrouter/internal/types"
)

const slackAPIBase = "https://slack.com/api"

// SlackAPIClient posts messages through chat.postMessage with a bot token.
type SlackAPIClient struct {
	base    *BaseClient
	baseURL string
}

// NewSlackAPIClient creates a SlackAPIClient. base may be nil; baseURL is
// overridable for tests.
func NewSlackAPIClient(base *BaseClient, baseURL string) *SlackAPIClient {
	if base == nil {
		base = NewBaseClient(nil, "slack-api", DefaultRetryPolicy(), "HookRouter/1.0",
			WithErrorCode(types.ErrCodeUpstreamChatProvider))
	}
	if baseURL == "" {
		baseURL = slackAPIBase
	}
	return &SlackAPIClient{base: base, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type slackAPIResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

// PostMessage sends payload (which must carry "channel") and returns the
// message timestamp Slack assigns. Slack reports most failures as HTTP 200
// with ok=false.
func (s *SlackAPIClient) PostMessage(ctx context.Context, token string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal Slack payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Slack request", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out slackAPIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamChatProvider,
			fmt.Sprintf("Slack API returned %d with unreadable body", resp.StatusCode), err)
	}
	if !out.OK {
		return "", types.NewAppError(types.ErrCodeUpstreamChatProvider, "Slack API error: "+out.Error, nil)
	}
	return out.TS, nil
}
