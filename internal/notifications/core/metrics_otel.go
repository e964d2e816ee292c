package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"hookrouter/internal/types"
)

var _ types.MetricsRecorder = (*OTelRecorder)(nil)

// OTelRecorder records pipeline metrics through the OpenTelemetry metric API.
// The exporter is whatever MeterProvider the caller passes in.
type OTelRecorder struct {
	webhooks      metric.Int64Counter
	notifications metric.Int64Counter
	channelErrors metric.Int64Counter
	duration      metric.Float64Histogram
	queueJobs     metric.Int64Gauge
}

// NewOTelRecorder creates the instruments on a meter from provider.
func NewOTelRecorder(provider metric.MeterProvider) (*OTelRecorder, error) {
	meter := provider.Meter("hookrouter")
	r := &OTelRecorder{}
	var err error

	if r.webhooks, err = meter.Int64Counter(types.MetricWebhooksReceived,
		metric.WithDescription("Inbound webhooks by source and outcome")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", types.MetricWebhooksReceived, err)
	}
	if r.notifications, err = meter.Int64Counter(types.MetricNotificationsProcessed,
		metric.WithDescription("Notification deliveries by channel and outcome")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", types.MetricNotificationsProcessed, err)
	}
	if r.channelErrors, err = meter.Int64Counter(types.MetricChannelErrors,
		metric.WithDescription("Channel send failures by error kind")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", types.MetricChannelErrors, err)
	}
	if r.duration, err = meter.Float64Histogram(types.MetricNotificationDuration,
		metric.WithDescription("Duration of channel send operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10)); err != nil {
		return nil, fmt.Errorf("creating %s: %w", types.MetricNotificationDuration, err)
	}
	if r.queueJobs, err = meter.Int64Gauge(types.MetricQueueDepth,
		metric.WithDescription("Jobs per queue state")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", types.MetricQueueDepth, err)
	}
	return r, nil
}

func (r *OTelRecorder) WebhookReceived(ctx context.Context, source, status string) {
	r.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String(types.DimSource, source),
		attribute.String(types.DimStatus, status),
	))
}

func (r *OTelRecorder) NotificationProcessed(ctx context.Context, channel types.ChannelType, status string) {
	r.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String(types.DimChannel, string(channel)),
		attribute.String(types.DimStatus, status),
	))
}

func (r *OTelRecorder) ChannelError(ctx context.Context, channel types.ChannelType, kind types.DeliveryErrorKind) {
	r.channelErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(types.DimChannel, string(channel)),
		attribute.String(types.DimErrorType, string(kind)),
	))
}

func (r *OTelRecorder) ObserveDuration(ctx context.Context, channel types.ChannelType, d time.Duration) {
	r.duration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(types.DimChannel, string(channel)),
	))
}

func (r *OTelRecorder) QueueDepth(ctx context.Context, status types.QueueStatus) {
	for state, v := range map[string]int64{
		"waiting":   status.Waiting,
		"active":    status.Active,
		"delayed":   status.Delayed,
		"completed": status.Completed,
		"failed":    status.Failed,
	} {
		r.queueJobs.Record(ctx, v, metric.WithAttributes(attribute.String(types.DimQueue, state)))
	}
}
