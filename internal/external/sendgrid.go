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

// sendGridAPIBase is the default SendGrid API base URL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string // Override for testing; defaults to sendGridAPIBase
}

// SendGridClient implements EmailProvider against the v3 Mail Send API.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
}

var _ EmailProvider = (*SendGridClient)(nil)

// NewSendGridClient creates a SendGridClient. base may be nil, in which case a
// BaseClient with the default retry policy is built.
func NewSendGridClient(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	if base == nil {
		base = NewBaseClient(nil, "sendgrid", DefaultRetryPolicy(), "HookRouter/1.0",
			WithErrorCode(types.ErrCodeUpstreamEmailProvider))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *SendGridClient) Name() string { return "sendgrid" }

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	ReplyTo          *sendGridAddress          `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
	CC []sendGridAddress `json:"cc,omitempty"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func addresses(list []string) []sendGridAddress {
	out := make([]sendGridAddress, 0, len(list))
	for _, a := range list {
		out = append(out, sendGridAddress{Email: a})
	}
	return out
}

func (s *SendGridClient) buildPayload(in EmailInput) sendGridMailPayload {
	p := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{To: addresses(in.To), CC: addresses(in.CC)}},
		From:             sendGridAddress{Email: in.From, Name: in.FromName},
		Subject:          in.Subject,
	}
	if len(p.Personalizations[0].CC) == 0 {
		p.Personalizations[0].CC = nil
	}
	if in.ReplyTo != "" {
		p.ReplyTo = &sendGridAddress{Email: in.ReplyTo}
	}
	// SendGrid requires text/plain before text/html.
	if in.Text != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/plain", Value: in.Text})
	}
	if in.HTML != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/html", Value: in.HTML})
	}
	if in.ReferenceID != "" {
		p.CustomArgs = map[string]string{"reference_id": in.ReferenceID}
	}
	return p
}

// Send posts the message. SendGrid answers 202 with an X-Message-Id header.
func (s *SendGridClient) Send(ctx context.Context, in EmailInput) (string, error) {
	body, err := json.Marshal(s.buildPayload(in))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal SendGrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", sendGridError(resp)
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func sendGridError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var parsed sendGridErrorResponse
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
		msg = parsed.Errors[0].Message
	}
	if resp.StatusCode == http.StatusForbidden {
		msg = "sender or recipient blocked: " + msg
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, msg), nil)
}
