package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"hookrouter/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient implements EmailProvider using AWS SES v2. Credentials come from
// the AWS config chain and the SDK retries on its own, so no BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
}

var _ EmailProvider = (*SESClient)(nil)

// NewSESClient creates an SESClient. configSetName is optional.
func NewSESClient(api SESAPI, configSetName string) *SESClient {
	return &SESClient{api: api, configSetName: configSetName}
}

// NewSESClientFromConfig builds the SDK client from an AWS config.
func NewSESClientFromConfig(awsCfg aws.Config, configSetName string) *SESClient {
	return NewSESClient(sesv2.NewFromConfig(awsCfg), configSetName)
}

func (s *SESClient) Name() string { return "ses" }

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// Send transmits a simple (non-templated) message.
func (s *SESClient) Send(ctx context.Context, in EmailInput) (string, error) {
	from := in.From
	if in.FromName != "" {
		from = fmt.Sprintf("%s <%s>", in.FromName, in.From)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &sestypes.Destination{
			ToAddresses: in.To,
			CcAddresses: in.CC,
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8Content(in.Subject),
				Body:    &sestypes.Body{},
			},
		},
	}
	if in.HTML != "" {
		input.Content.Simple.Body.Html = utf8Content(in.HTML)
	}
	if in.Text != "" {
		input.Content.Simple.Body.Text = utf8Content(in.Text)
	}
	if in.ReplyTo != "" {
		input.ReplyToAddresses = []string{in.ReplyTo}
	}
	if s.configSetName != "" {
		input.ConfigurationSetName = aws.String(s.configSetName)
	}
	if in.ReferenceID != "" {
		input.EmailTags = []sestypes.MessageTag{{Name: aws.String("ReferenceID"), Value: aws.String(in.ReferenceID)}}
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func mapSESError(err error) error {
	var tooMany *sestypes.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	}
	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES account sending paused", err)
	}
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SES rejected message", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES error: %v", err), err)
}
