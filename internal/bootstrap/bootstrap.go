// Package bootstrap builds the runtime components from configuration. The
// API server and the dispatch worker share it so both deliver through the
// same channel set, queue settings and metrics backends.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/metric"

	"hookrouter/internal/archive"
	"hookrouter/internal/config"
	"hookrouter/internal/core"
	"hookrouter/internal/db"
	"hookrouter/internal/external"
	"hookrouter/internal/ingest"
	ncore "hookrouter/internal/notifications/core"
	"hookrouter/internal/notifications/discord"
	"hookrouter/internal/notifications/email"
	"hookrouter/internal/notifications/slack"
	"hookrouter/internal/notifications/sms"
	"hookrouter/internal/notifications/teams"
	"hookrouter/internal/notifications/telegram"
	"hookrouter/internal/notifications/webhook"
	"hookrouter/internal/queue"
	"hookrouter/internal/rules"
	"hookrouter/internal/types"
)

// AWS loads the shared SDK config. A non-empty EndpointURL (LocalStack)
// becomes the base endpoint of every client built from it.
func AWS(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config (region=%s): %w", c.Region, err)
	}
	if c.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.EndpointURL)
	}
	return awsCfg, nil
}

// Metrics builds the recorder selected by METRICS_BACKEND. mp is only used by
// the otel backends.
func Metrics(cfg config.ObservabilityConfig, awsCfg aws.Config, mp metric.MeterProvider, logger types.Logger) (types.MetricsRecorder, error) {
	var recs ncore.MultiRecorder
	if cfg.MetricsBackend == "cloudwatch" || cfg.MetricsBackend == "both" {
		recs = append(recs, ncore.NewCloudWatchRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace, logger))
	}
	if cfg.MetricsBackend == "otel" || cfg.MetricsBackend == "both" {
		r, err := ncore.NewOTelRecorder(mp)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	switch len(recs) {
	case 0:
		return ncore.NoopRecorder{}, nil
	case 1:
		return recs[0], nil
	default:
		return recs, nil
	}
}

// Archiver returns the S3 event archiver, or nil when no bucket is set.
func Archiver(c config.AWSConfig, awsCfg aws.Config, logger types.Logger) (ingest.Archiver, error) {
	if c.ArchiveBucket == "" {
		return nil, nil
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// LocalStack serves buckets by path, not by virtual host.
		o.UsePathStyle = c.EndpointURL != ""
	})
	a, err := archive.New(client, c.ArchiveBucket, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Channels builds the registry with every channel adapter. Adapters whose
// credentials are missing are still registered; they fail validation so
// rules referencing them are rejected with a clear error.
func Channels(cfg *config.Config, awsCfg aws.Config, logger types.Logger) (*ncore.Registry, error) {
	clock := types.RealClock{}
	ua := cfg.Dispatch.UserAgent
	base := func(name string, code types.ErrorCode) *external.BaseClient {
		return external.NewBaseClient(nil, name, external.DefaultRetryPolicy(), ua, external.WithErrorCode(code))
	}

	var emailProvider external.EmailProvider
	switch cfg.Email.Provider {
	case "sendgrid":
		emailProvider = external.NewSendGridClient(base("sendgrid", types.ErrCodeUpstreamEmailProvider),
			external.SendGridClientConfig{APIKey: cfg.Email.SendGridAPIKey.Unmask()})
	default:
		emailProvider = external.NewSESClientFromConfig(awsCfg, cfg.Email.SESConfigSet)
	}
	emailCh, err := email.NewChannel(email.ChannelConfig{
		Provider:        emailProvider,
		DefaultFrom:     cfg.Email.From,
		DefaultFromName: cfg.Email.FromName,
		Clock:           clock,
		Logger:          logger.With("channel", "email"),
	})
	if err != nil {
		return nil, err
	}

	var smsProvider external.SMSProvider
	if cfg.SMS.Enabled() {
		smsProvider = external.NewTwilioClient(base("twilio", types.ErrCodeUpstreamSMSProvider), external.TwilioConfig{
			AccountSID: cfg.SMS.TwilioAccountSID,
			AuthToken:  cfg.SMS.TwilioAuthToken.Unmask(),
		})
	}
	smsCh := sms.NewChannel(smsProvider, cfg.SMS.TwilioFromNumber, clock, logger.With("channel", "sms"))

	var poster slack.Poster
	slackToken := cfg.Slack.BotToken.Unmask()
	if slackToken != "" {
		poster = external.NewSlackAPIClient(base("slack-api", types.ErrCodeUpstreamChatProvider), cfg.Slack.APIURL)
	}

	tgCh, err := telegramChannel(cfg.Telegram, clock, logger.With("channel", "telegram"))
	if err != nil {
		return nil, err
	}

	var (
		slackCh   *slack.Channel
		discordCh *discord.Channel
		teamsCh   *teams.Channel
		webhookCh *webhook.Channel
	)
	if cfg.Dispatch.AllowPrivateTargets {
		// Plain clients so local development can reach loopback receivers.
		logger.Warn("SSRF guard disabled for outbound HTTP channels")
		plain := &http.Client{Timeout: cfg.Dispatch.SendTimeout}
		slackCh = slack.NewChannelWithClient(plain, poster, slackToken, clock, logger.With("channel", "slack"))
		discordCh = discord.NewChannelWithClient(plain, cfg.Discord.DefaultWebhookURL, clock, logger.With("channel", "discord"))
		teamsCh = teams.NewChannelWithClient(plain, clock, logger.With("channel", "teams"))
		webhookCh = webhook.NewChannelWithClient(&http.Client{}, clock, logger.With("channel", "webhook"))
	} else {
		if slackCh, err = slack.NewChannel(poster, slackToken, logger.With("channel", "slack")); err != nil {
			return nil, err
		}
		if discordCh, err = discord.NewChannel(cfg.Discord.DefaultWebhookURL, logger.With("channel", "discord")); err != nil {
			return nil, err
		}
		if teamsCh, err = teams.NewChannel(logger.With("channel", "teams")); err != nil {
			return nil, err
		}
		if webhookCh, err = webhook.NewChannel(logger.With("channel", "webhook")); err != nil {
			return nil, err
		}
	}

	return ncore.NewRegistry(emailCh, smsCh, slackCh, tgCh, discordCh, teamsCh, webhookCh)
}

func telegramChannel(c config.TelegramConfig, clock types.Clock, logger types.Logger) (*telegram.Channel, error) {
	token := c.BotToken.Unmask()
	if token == "" {
		return telegram.NewChannelWithBot(nil, clock, logger), nil
	}
	bot, err := telegram.NewBot(token, c.APIURL)
	if err != nil {
		return nil, err
	}
	return telegram.NewChannelWithBot(bot, clock, logger), nil
}

// RetryConfig converts the queue settings into the queue retry policy.
func RetryConfig(c config.QueueConfig) queue.RetryConfig {
	return queue.RetryConfig{Attempts: c.RetryAttempts, Delay: c.RetryDelay(), MaxDelay: queue.MaxRetryDelay}
}

// StatusReader reports queue counters.
type StatusReader interface {
	Status(ctx context.Context) (types.QueueStatus, error)
}

// Queue is the selected queue backend.
type Queue struct {
	Enqueuer types.Enqueuer
	Status   StatusReader
	Pruner   queue.Pruner
	// Worker is nil for the SQS backend, whose consumer is the
	// dispatch-worker Lambda.
	Worker types.Queue
	// SQS is set for the SQS backend.
	SQS *queue.SQSDispatcher

	closers []func() error
}

// Close releases backend connections.
func (q *Queue) Close() error {
	var first error
	for _, fn := range q.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenQueue connects the backend named by QUEUE_BACKEND.
func OpenQueue(ctx context.Context, c config.QueueConfig, awsCfg aws.Config, logger types.Logger) (*Queue, error) {
	retry := RetryConfig(c)
	switch c.Backend {
	case "redis":
		client, err := queue.NewRedisClient(c.RedisURL, c.RedisPassword.Unmask())
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rq := queue.NewRedisQueue(client, queue.RedisOptions{
			KeyPrefix:       c.KeyPrefix,
			Retry:           retry,
			RetainCompleted: c.RetainCompleted,
			RetainFailed:    c.RetainFailed,
		}, logger.With("component", "queue", "backend", "redis"))
		return &Queue{Enqueuer: rq, Status: rq, Pruner: rq, Worker: rq, closers: []func() error{client.Close}}, nil
	case "sqs":
		d := queue.NewSQSDispatcher(sqs.NewFromConfig(awsCfg), c, logger.With("component", "queue", "backend", "sqs"))
		return &Queue{Enqueuer: d, Status: d, SQS: d}, nil
	default:
		mq := queue.NewMemoryQueue(retry, logger.With("component", "queue", "backend", "memory"),
			queue.WithRetention(c.RetainCompleted, c.RetainFailed))
		return &Queue{Enqueuer: mq, Status: mq, Pruner: mq, Worker: mq}, nil
	}
}

// Tracker stores message statuses for the processor and the API.
type Tracker interface {
	types.StatusTracker
	ListByEvent(ctx context.Context, eventID string) ([]*types.NotificationMessage, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ Tracker = (*ncore.MemoryTracker)(nil)
	_ Tracker = (*db.NotificationRepository)(nil)
)

// Stores holds the rule store and the status tracker.
type Stores struct {
	Rules types.RuleStore
	// RuleFile is set for the file backend so callers can watch and reload.
	RuleFile *rules.FileStore
	Tracker  Tracker
	Probes   []core.HealthProbe

	closers []func()
}

// Close releases database handles.
func (s *Stores) Close() {
	for _, fn := range s.closers {
		fn()
	}
}

// OpenStores opens the rule backend named by RULES_BACKEND. Statuses go to
// Postgres when the rules do; every other backend tracks in memory.
func OpenStores(ctx context.Context, c config.RulesConfig, clock types.Clock, logger types.Logger) (*Stores, error) {
	s := &Stores{}
	switch c.Backend {
	case "file":
		fs, err := rules.NewFileStore(c.File, clock, logger.With("component", "rules"))
		if err != nil {
			return nil, err
		}
		s.Rules, s.RuleFile = fs, fs
	case "postgres":
		pool, err := db.Open(ctx, c.DatabaseURL.Unmask())
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		s.Rules = db.NewRuleRepository(pool, clock)
		s.Tracker = db.NewNotificationRepository(pool)
		s.Probes = append(s.Probes, core.ProbeFunc("database", pool.Ping))
		s.closers = append(s.closers, pool.Close)
	case "sqlite":
		store, err := rules.OpenSQLite(ctx, c.SQLitePath, clock)
		if err != nil {
			return nil, err
		}
		s.Rules = store
		s.Probes = append(s.Probes, core.ProbeFunc("database", store.Ping))
		s.closers = append(s.closers, func() { _ = store.Close() })
	default:
		ms, err := rules.NewMemoryStore(clock)
		if err != nil {
			return nil, err
		}
		s.Rules = ms
	}
	if s.Tracker == nil {
		s.Tracker = ncore.NewMemoryTracker(ncore.DefaultTrackerCapacity)
	}
	return s, nil
}
