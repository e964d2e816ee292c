// Package main is the entry point for the dispatch worker Lambda function.
//
// The worker consumes the urgent and standard SQS queues fed by the SQS queue
// backend. Each record carries one NotificationMessage which is delivered
// through the same processor the in-process queues use.
//
// Cold start:
//  1. Load configuration (SSM pointers resolved outside local mode).
//  2. Build the channel registry, metrics recorder and status tracker.
//  3. Register the handler with lambda.Start.
//
// Per record:
//
//	success                -> ack
//	retryable failure      -> batch item failure, visibility set to the delay
//	retries exhausted      -> ack (the tracker holds the failed status)
//	malformed body         -> ack (redelivery cannot fix it)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"hookrouter/internal/bootstrap"
	"hookrouter/internal/config"
	"hookrouter/internal/db"
	"hookrouter/internal/logging"
	ncore "hookrouter/internal/notifications/core"
	"hookrouter/internal/queue"
	"hookrouter/internal/telemetry"
	"hookrouter/internal/types"
)

// Processor delivers one message. *ncore.Processor satisfies it.
type Processor interface {
	Process(ctx context.Context, msg *types.NotificationMessage) error
}

// Delayer postpones redelivery of a received message.
// *queue.SQSDispatcher satisfies it.
type Delayer interface {
	QueueURLForARN(arn string) string
	Delay(ctx context.Context, queueURL, receiptHandle string, delay time.Duration) error
}

// Handler holds the dependencies for the Lambda handler.
type Handler struct {
	processor Processor
	delayer   Delayer
	retry     queue.RetryConfig
	logger    types.Logger
}

// Handle processes an SQS batch. Lambda partial batch responses let SQS
// redeliver only the records listed in BatchItemFailures.
func (h *Handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range ev.Records {
		if h.process(ctx, record) {
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

// process returns true when the record should be redelivered.
func (h *Handler) process(ctx context.Context, record events.SQSMessage) bool {
	log := h.logger.With("sqs_message_id", record.MessageId)

	var msg types.NotificationMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		log.Error("dropping malformed notification message", "error", err.Error())
		return false
	}
	log = log.With("message_id", msg.ID, "webhook_id", msg.EventID)

	// SQS redelivers the body as enqueued, so earlier passes are only
	// visible through the receive count.
	attempts := receiveCount(record)
	if prior := attempts - 1; prior > msg.Status.Attempts {
		msg.Status.Attempts = prior
	}

	err := h.processor.Process(ctx, &msg)
	if err == nil {
		return false
	}

	delay, retry := h.retry.Backoff(attempts, err)
	if !retry {
		log.Error("notification failed permanently", "attempts", attempts, "error", err.Error())
		return false
	}

	queueURL := h.delayer.QueueURLForARN(record.EventSourceARN)
	if queueURL != "" && delay > 0 {
		if derr := h.delayer.Delay(ctx, queueURL, record.ReceiptHandle, delay); derr != nil {
			// SQS falls back to the queue's own visibility timeout.
			log.Warn("failed to set retry delay", "error", derr.Error())
		}
	}
	log.Warn("notification will be retried", "attempts", attempts, "delay", delay.String(), "error", err.Error())
	return true
}

// receiveCount reads ApproximateReceiveCount, defaulting to 1.
func receiveCount(record events.SQSMessage) int {
	n, err := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := logging.Adapt(logging.New(cfg.LogLevel)).With("component", "dispatch-worker")

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    cfg.Service + "-dispatch",
		ServiceVersion: cfg.Build.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return err
	}

	awsCfg, err := bootstrap.AWS(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	metrics, err := bootstrap.Metrics(cfg.Observability, awsCfg, tel.MeterProvider, logger)
	if err != nil {
		return err
	}
	registry, err := bootstrap.Channels(cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	// Statuses are only visible to the API when both share Postgres.
	var tracker types.StatusTracker
	if cfg.Rules.Backend == "postgres" {
		pool, err := db.Open(ctx, cfg.Rules.DatabaseURL.Unmask())
		if err != nil {
			return err
		}
		defer pool.Close()
		tracker = db.NewNotificationRepository(pool)
	}

	h := &Handler{
		processor: ncore.NewProcessor(registry, metrics, tracker, types.RealClock{}, logger,
			ncore.ProcessorConfig{SendTimeout: cfg.Dispatch.SendTimeout}),
		delayer: queue.NewSQSDispatcher(sqs.NewFromConfig(awsCfg), cfg.Queue, logger),
		retry:   bootstrap.RetryConfig(cfg.Queue),
		logger:  logger,
	}
	logger.Info("dispatch worker ready", "version", cfg.Build.Version)
	lambda.Start(h.Handle)
	return nil
}
