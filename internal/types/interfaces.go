package types

import (
	"context"
	"time"
)

// Channel is the capability every delivery adapter exposes. The processor
// treats all channels uniformly through these two operations.
type Channel interface {
	// Type returns the tag the adapter is registered under.
	Type() ChannelType

	// Send delivers content using the entry's config. A non-nil error or a
	// result with Success=false both count as a failed delivery.
	Send(ctx context.Context, content MessageContent, config map[string]any) (*DeliveryResult, error)

	// Validate reports whether config carries everything Send needs.
	Validate(config map[string]any) bool
}

// RuleStore owns routing rules. The routing engine only reads from it.
type RuleStore interface {
	GetRulesForSource(ctx context.Context, source string) ([]*RoutingRule, error)
	GetAllRules(ctx context.Context) ([]*RoutingRule, error)
	GetByID(ctx context.Context, id string) (*RoutingRule, error)
	Create(ctx context.Context, rule *RoutingRule) error
	Update(ctx context.Context, rule *RoutingRule) error
	Delete(ctx context.Context, id string) error
}

// Enqueuer is the producing side of the queue boundary.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *NotificationMessage, priority int) (string, error)
}

// MessageHandler processes one dequeued message. Returning an error asks the
// queue to retry the message.
type MessageHandler func(ctx context.Context, msg *NotificationMessage) error

// Queue is the full queue boundary used by in-process deployments.
type Queue interface {
	Enqueuer

	// RegisterHandler installs the handler and the worker count used by Start.
	RegisterHandler(handler MessageHandler, concurrency int)

	// Start runs the workers until ctx is cancelled.
	Start(ctx context.Context) error

	// Status returns current job counts.
	Status(ctx context.Context) (QueueStatus, error)
}

// StatusTracker persists message status transitions for later inspection.
type StatusTracker interface {
	Track(ctx context.Context, msg *NotificationMessage) error
	Get(ctx context.Context, id string) (*NotificationMessage, error)
}

// MetricsRecorder is the sink for pipeline telemetry.
type MetricsRecorder interface {
	WebhookReceived(ctx context.Context, source, status string)
	NotificationProcessed(ctx context.Context, channel ChannelType, status string)
	ChannelError(ctx context.Context, channel ChannelType, kind DeliveryErrorKind)
	ObserveDuration(ctx context.Context, channel ChannelType, d time.Duration)
	QueueDepth(ctx context.Context, status QueueStatus)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
