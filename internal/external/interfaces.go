package external

import "context"

// EmailInput is a fully rendered email.
type EmailInput struct {
	From        string
	FromName    string
	To          []string
	CC          []string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	ReferenceID string
}

// EmailProvider transmits rendered email and returns the provider message ID.
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, input EmailInput) (providerMsgID string, err error)
}

// SMSInput is one outbound text message.
type SMSInput struct {
	From string
	To   string
	Body string
}

// SMSProvider transmits a text message and returns the provider message ID.
type SMSProvider interface {
	Name() string
	Send(ctx context.Context, input SMSInput) (providerMsgID string, err error)
}
