package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"hookrouter/internal/types"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioConfig holds account credentials for the Messages API.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string // Override for testing
}

// TwilioClient implements SMSProvider.
type TwilioClient struct {
	base    *BaseClient
	cfg     TwilioConfig
	baseURL string
}

var _ SMSProvider = (*TwilioClient)(nil)

// NewTwilioClient creates a TwilioClient. base may be nil.
func NewTwilioClient(base *BaseClient, cfg TwilioConfig) *TwilioClient {
	if base == nil {
		base = NewBaseClient(nil, "twilio", DefaultRetryPolicy(), "HookRouter/1.0",
			WithErrorCode(types.ErrCodeUpstreamSMSProvider))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}
	return &TwilioClient{base: base, cfg: cfg, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (c *TwilioClient) Name() string { return "twilio" }

type twilioMessage struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send creates a message resource and returns its SID.
func (c *TwilioClient) Send(ctx context.Context, in SMSInput) (string, error) {
	form := url.Values{}
	form.Set("From", in.From)
	form.Set("To", in.To)
	form.Set("Body", in.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Twilio request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var msg twilioMessage
	_ = json.Unmarshal(raw, &msg)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := msg.Message
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return "", types.NewAppErrorWithDetails(types.ErrCodeUpstreamSMSProvider,
			fmt.Sprintf("Twilio error (%d): %s", resp.StatusCode, detail), nil,
			map[string]any{"twilioCode": msg.Code})
	}
	return msg.SID, nil
}
