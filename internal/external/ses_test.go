package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"hookrouter/internal/types"
)

// mockSESAPI implements SESAPI for testing.
type mockSESAPI struct {
	sendEmailFunc func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

func (m *mockSESAPI) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return m.sendEmailFunc(ctx, params, optFns...)
}

func failingSES(err error) *mockSESAPI {
	return &mockSESAPI{
		sendEmailFunc: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, err
		},
	}
}

func TestSESSend_Success(t *testing.T) {
	var captured *sesv2.SendEmailInput
	mock := &mockSESAPI{
		sendEmailFunc: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			captured = params
			return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-abc123")}, nil
		},
	}
	client := NewSESClient(mock, "hookrouter-tracking")

	msgID, err := client.Send(context.Background(), EmailInput{
		From:        "alerts@hookrouter.dev",
		FromName:    "HookRouter",
		To:          []string{"a@example.com", "b@example.com"},
		CC:          []string{"c@example.com"},
		ReplyTo:     "support@example.com",
		Subject:     "Deploy finished",
		HTML:        "<h1>Deploy</h1>",
		Text:        "Deploy",
		ReferenceID: "msg-1",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "ses-msg-abc123" {
		t.Errorf("msgID = %q", msgID)
	}

	if got := aws.ToString(captured.FromEmailAddress); got != "HookRouter <alerts@hookrouter.dev>" {
		t.Errorf("From = %q", got)
	}
	if len(captured.Destination.ToAddresses) != 2 || len(captured.Destination.CcAddresses) != 1 {
		t.Errorf("destination = %+v", captured.Destination)
	}
	if len(captured.ReplyToAddresses) != 1 || captured.ReplyToAddresses[0] != "support@example.com" {
		t.Errorf("ReplyTo = %v", captured.ReplyToAddresses)
	}
	if aws.ToString(captured.ConfigurationSetName) != "hookrouter-tracking" {
		t.Errorf("ConfigurationSetName = %v", captured.ConfigurationSetName)
	}
	body := captured.Content.Simple.Body
	if aws.ToString(body.Html.Data) != "<h1>Deploy</h1>" || aws.ToString(body.Text.Data) != "Deploy" {
		t.Errorf("unexpected body: %+v", body)
	}
	if len(captured.EmailTags) != 1 || aws.ToString(captured.EmailTags[0].Value) != "msg-1" {
		t.Errorf("EmailTags = %+v", captured.EmailTags)
	}
}

func TestSESSend_MinimalInput(t *testing.T) {
	var captured *sesv2.SendEmailInput
	mock := &mockSESAPI{
		sendEmailFunc: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			captured = params
			return &sesv2.SendEmailOutput{MessageId: aws.String("id")}, nil
		},
	}
	client := NewSESClient(mock, "")

	if _, err := client.Send(context.Background(), EmailInput{From: "a@x.io", To: []string{"b@x.io"}, Subject: "s", Text: "t"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if aws.ToString(captured.FromEmailAddress) != "a@x.io" {
		t.Errorf("From = %q", aws.ToString(captured.FromEmailAddress))
	}
	if captured.Content.Simple.Body.Html != nil {
		t.Error("Html body should be omitted when empty")
	}
	if captured.ConfigurationSetName != nil || captured.ReplyToAddresses != nil || captured.EmailTags != nil {
		t.Error("optional fields should be unset")
	}
}

func TestSESSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"rejected", &sestypes.MessageRejected{Message: aws.String("suppressed")}, types.ErrCodeUpstreamEmailProvider},
		{"throttled", &sestypes.TooManyRequestsException{Message: aws.String("Rate exceeded")}, types.ErrCodeUpstreamRateLimited},
		{"paused", &sestypes.SendingPausedException{Message: aws.String("paused")}, types.ErrCodeUpstreamUnavailable},
		{"generic", errors.New("network unreachable"), types.ErrCodeUpstreamEmailProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewSESClient(failingSES(tt.err), "")
			_, err := client.Send(context.Background(), EmailInput{From: "a@x.io", To: []string{"b@x.io"}})

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *types.AppError, got %T", err)
			}
			if appErr.Code != tt.want {
				t.Errorf("Code = %s, want %s", appErr.Code, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("original SDK error should stay in the chain")
			}
		})
	}
}
