package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"hookrouter/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchRecorder implements MetricsRecorder.
var _ types.MetricsRecorder = (*CloudWatchRecorder)(nil)

// CloudWatchRecorder emits pipeline metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - webhooks_received_total: Dims {source, status}
//   - notifications_processed_total: Dims {channel, status}
//   - channel_errors_total: Dims {channel, error_type}
//   - notification_duration_seconds: Dims {channel}
//   - queue_jobs: Dims {queue}, one datum per job state
//
// Publishing failures are logged and swallowed; metrics never fail delivery.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchRecorder creates a recorder publishing to namespace. An empty
// namespace falls back to types.MetricNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchRecorder) WebhookReceived(ctx context.Context, source, status string) {
	m.put(ctx, count(types.MetricWebhooksReceived,
		dim(types.DimSource, source),
		dim(types.DimStatus, status),
	))
}

func (m *CloudWatchRecorder) NotificationProcessed(ctx context.Context, channel types.ChannelType, status string) {
	m.put(ctx, count(types.MetricNotificationsProcessed,
		dim(types.DimChannel, string(channel)),
		dim(types.DimStatus, status),
	))
}

func (m *CloudWatchRecorder) ChannelError(ctx context.Context, channel types.ChannelType, kind types.DeliveryErrorKind) {
	m.put(ctx, count(types.MetricChannelErrors,
		dim(types.DimChannel, string(channel)),
		dim(types.DimErrorType, string(kind)),
	))
}

// ObserveDuration records the send duration in seconds, matching the
// histogram unit used by the OpenTelemetry recorder.
func (m *CloudWatchRecorder) ObserveDuration(ctx context.Context, channel types.ChannelType, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricNotificationDuration),
		Value:      aws.Float64(d.Seconds()),
		Unit:       cwtypes.StandardUnitSeconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimChannel, string(channel))},
	})
}

// QueueDepth publishes one gauge datum per job state in a single call.
func (m *CloudWatchRecorder) QueueDepth(ctx context.Context, status types.QueueStatus) {
	states := []struct {
		name  string
		value int64
	}{
		{"waiting", status.Waiting},
		{"active", status.Active},
		{"delayed", status.Delayed},
		{"completed", status.Completed},
		{"failed", status.Failed},
	}
	data := make([]cwtypes.MetricDatum, 0, len(states))
	for _, s := range states {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricQueueDepth),
			Value:      aws.Float64(float64(s.value)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{dim(types.DimQueue, s.name)},
		})
	}
	m.put(ctx, data...)
}

func (m *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metric",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func count(name string, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
