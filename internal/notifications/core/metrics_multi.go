package core

import (
	"context"
	"time"

	"hookrouter/internal/types"
)

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) WebhookReceived(context.Context, string, string)                          {}
func (NoopRecorder) NotificationProcessed(context.Context, types.ChannelType, string)         {}
func (NoopRecorder) ChannelError(context.Context, types.ChannelType, types.DeliveryErrorKind) {}
func (NoopRecorder) ObserveDuration(context.Context, types.ChannelType, time.Duration)        {}
func (NoopRecorder) QueueDepth(context.Context, types.QueueStatus)                            {}

// MultiRecorder fans every call out to each recorder in order.
type MultiRecorder []types.MetricsRecorder

func (m MultiRecorder) WebhookReceived(ctx context.Context, source, status string) {
	for _, r := range m {
		r.WebhookReceived(ctx, source, status)
	}
}

func (m MultiRecorder) NotificationProcessed(ctx context.Context, channel types.ChannelType, status string) {
	for _, r := range m {
		r.NotificationProcessed(ctx, channel, status)
	}
}

func (m MultiRecorder) ChannelError(ctx context.Context, channel types.ChannelType, kind types.DeliveryErrorKind) {
	for _, r := range m {
		r.ChannelError(ctx, channel, kind)
	}
}

func (m MultiRecorder) ObserveDuration(ctx context.Context, channel types.ChannelType, d time.Duration) {
	for _, r := range m {
		r.ObserveDuration(ctx, channel, d)
	}
}

func (m MultiRecorder) QueueDepth(ctx context.Context, status types.QueueStatus) {
	for _, r := range m {
		r.QueueDepth(ctx, status)
	}
}

var (
	_ types.MetricsRecorder = NoopRecorder{}
	_ types.MetricsRecorder = MultiRecorder(nil)
)
