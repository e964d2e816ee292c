package types

// Telemetry metric names.
// All recorders MUST use these constants.
const (
	// Metric Names
	MetricWebhooksReceived       = "webhooks_received_total"
	MetricNotificationsProcessed = "notifications_processed_total"
	MetricChannelErrors          = "channel_errors_total"
	MetricNotificationDuration   = "notification_duration_seconds"
	MetricQueueDepth             = "queue_jobs"

	// Dimension Keys
	DimSource    = "source"
	DimStatus    = "status"
	DimChannel   = "channel"
	DimErrorType = "error_type"
	DimQueue     = "queue"

	// Metric Namespace
	MetricNamespace = "HookRouter"
)
