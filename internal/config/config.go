// Package config defines the process configuration for hookrouter.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"hookrouter/internal/types"
)

// SecretString is an alias for types.SecretString so secrets stay redacted
// in logs and JSON.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"hookrouter"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Security      SecurityConfig
	Queue         QueueConfig
	Rules         RulesConfig
	AWS           AWSConfig
	Observability ObservabilityConfig
	Dispatch      DispatchConfig
	Email         EmailConfig
	SMS           SMSConfig
	Slack         SlackConfig
	Telegram      TelegramConfig
	Discord       DiscordConfig

	// Build is injected via ldflags, not env.
	Build BuildInfo
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool { return c.Environment == localEnv }

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"3000"`
	BodyLimitBytes  int64         `envconfig:"BODY_LIMIT_BYTES" default:"1048576" validate:"gt=0"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	IngestWorkers   int           `envconfig:"INGEST_WORKERS" default:"4" validate:"gt=0"`
	IngestBuffer    int           `envconfig:"INGEST_BUFFER" default:"256" validate:"gt=0"`
}

// SecurityConfig holds API authentication and rate limiting.
type SecurityConfig struct {
	// APIKeyHashes are bcrypt hashes; the plaintext keys never reach config.
	APIKeyHashes         []string     `envconfig:"API_KEY_HASHES"`
	WebhookSecret        SecretString `envconfig:"WEBHOOK_SECRET"`
	RateLimitWindowMs    int          `envconfig:"RATE_LIMIT_WINDOW_MS" default:"60000" validate:"gt=0"`
	RateLimitMaxRequests int          `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"100" validate:"gt=0"`
	CorsAllowedOrigins   []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// RateLimitWindow returns the rate limit window as a duration.
func (s SecurityConfig) RateLimitWindow() time.Duration {
	return time.Duration(s.RateLimitWindowMs) * time.Millisecond
}

// QueueConfig selects and tunes the queue backend.
type QueueConfig struct {
	Backend         string       `envconfig:"QUEUE_BACKEND" default:"memory" validate:"oneof=memory redis sqs"`
	RedisURL        string       `envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
	RedisPassword   SecretString `envconfig:"REDIS_PASSWORD"`
	KeyPrefix       string       `envconfig:"QUEUE_KEY_PREFIX" default:"hookrouter:queue:"`
	RetryAttempts   int          `envconfig:"QUEUE_RETRY_ATTEMPTS" default:"3" validate:"gte=0"`
	RetryDelayMs    int          `envconfig:"QUEUE_RETRY_DELAY" default:"5000" validate:"gte=0"`
	Workers         int          `envconfig:"QUEUE_CONCURRENT_WORKERS" default:"5" validate:"gt=0"`
	RetainCompleted int          `envconfig:"QUEUE_RETAIN_COMPLETED" default:"100" validate:"gte=0"`
	RetainFailed    int          `envconfig:"QUEUE_RETAIN_FAILED" default:"50" validate:"gte=0"`
	SQSUrgentURL    string       `envconfig:"SQS_URGENT_QUEUE_URL" validate:"omitempty,url"`
	SQSStandardURL  string       `envconfig:"SQS_STANDARD_QUEUE_URL" validate:"required_if=Backend sqs"`
}

// RetryDelay returns the base retry delay as a duration.
func (q QueueConfig) RetryDelay() time.Duration {
	return time.Duration(q.RetryDelayMs) * time.Millisecond
}

// RulesConfig selects the rule store backend.
type RulesConfig struct {
	Backend     string       `envconfig:"RULES_BACKEND" default:"memory" validate:"oneof=memory file postgres sqlite"`
	File        string       `envconfig:"RULES_FILE" validate:"required_if=Backend file"`
	DatabaseURL SecretString `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	SQLitePath  string       `envconfig:"SQLITE_PATH" default:"data/hookrouter.db"`
	// ReloadSpec is the cron spec for the periodic rule file reload.
	ReloadSpec  string       `envconfig:"RULES_RELOAD_SCHEDULE" default:"@hourly"`
}

// AWSConfig holds the region and optional resources.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	ArchiveBucket string `envconfig:"ARCHIVE_BUCKET"`
	// EndpointURL points SDK clients at LocalStack. Empty in production.
	EndpointURL   string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	MetricsBackend  string        `envconfig:"METRICS_BACKEND" default:"noop" validate:"oneof=noop cloudwatch otel both"`
	MetricNamespace string        `envconfig:"METRICS_NAMESPACE" default:"HookRouter"`
	OTLPEndpoint    string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	QueueDepthSpec  string        `envconfig:"QUEUE_DEPTH_SCHEDULE" default:"@every 1m"`
	PruneSpec       string        `envconfig:"QUEUE_PRUNE_SCHEDULE" default:"@every 10m"`
	// StatusRetention bounds how long terminal message statuses are kept.
	StatusRetention time.Duration `envconfig:"STATUS_RETENTION" default:"168h"`
}

// DispatchConfig holds outbound delivery settings shared by channels.
type DispatchConfig struct {
	SendTimeout         time.Duration `envconfig:"DISPATCH_SEND_TIMEOUT" default:"30s"`
	UserAgent           string        `envconfig:"WEBHOOK_USER_AGENT" default:"hookrouter/1.0"`
	// AllowPrivateTargets disables the SSRF guard. Local development only.
	AllowPrivateTargets bool          `envconfig:"ALLOW_PRIVATE_TARGETS" default:"false"`
}

// EmailConfig selects the email provider.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid"`
	From           string       `envconfig:"EMAIL_FROM" validate:"omitempty,email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"hookrouter"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	SESConfigSet   string       `envconfig:"SES_CONFIGURATION_SET"`
}

// SMSConfig holds Twilio credentials. SMS is disabled when unset.
type SMSConfig struct {
	TwilioAccountSID string       `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  SecretString `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string       `envconfig:"TWILIO_FROM_NUMBER"`
}

// Enabled reports whether Twilio credentials are present.
func (s SMSConfig) Enabled() bool {
	return s.TwilioAccountSID != "" && s.TwilioAuthToken.IsSet()
}

// SlackConfig holds the bot token used for chat.postMessage delivery.
type SlackConfig struct {
	BotToken SecretString `envconfig:"SLACK_BOT_TOKEN"`
	APIURL   string       `envconfig:"SLACK_API_URL" default:"https://slack.com/api"`
}

// TelegramConfig holds the bot token. Telegram is disabled when unset.
type TelegramConfig struct {
	BotToken SecretString `envconfig:"TELEGRAM_BOT_TOKEN"`
	APIURL   string       `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
}

// DiscordConfig holds the fallback webhook for entries without their own.
type DiscordConfig struct {
	DefaultWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL" validate:"omitempty,url"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value did not parse into its
	// target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
