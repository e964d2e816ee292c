package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hookrouter/internal/types"
)

// DefaultSendTimeout bounds a single Channel.Send call.
const DefaultSendTimeout = 30 * time.Second

// ProcessorConfig holds processor tunables.
type ProcessorConfig struct {
	SendTimeout time.Duration
}

// Processor delivers a NotificationMessage through its channel entries and
// decides whether the queue should retry it.
//
// Entries are attempted sequentially in list order. When any failed entry
// still has attempts left under its retry policy the whole message is handed
// back to the queue as a *types.RetryableError, so entries that already
// succeeded in the pass are sent again on redelivery (at-least-once).
type Processor struct {
	registry    *Registry
	metrics     types.MetricsRecorder
	tracker     types.StatusTracker
	clock       types.Clock
	logger      types.Logger
	tracer      trace.Tracer
	sendTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewProcessor wires a Processor. tracker may be nil.
func NewProcessor(
	registry *Registry,
	metrics types.MetricsRecorder,
	tracker types.StatusTracker,
	clock types.Clock,
	logger types.Logger,
	cfg ProcessorConfig,
) *Processor {
	if metrics == nil {
		metrics = NoopRecorder{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Processor{
		registry:    registry,
		metrics:     metrics,
		tracker:     tracker,
		clock:       clock,
		logger:      logger,
		tracer:      otel.Tracer("hookrouter/internal/notifications/core"),
		sendTimeout: cfg.SendTimeout,
		sleep:       sleepContext,
	}
}

// Handle adapts Process to types.MessageHandler.
func (p *Processor) Handle(ctx context.Context, msg *types.NotificationMessage) error {
	return p.Process(ctx, msg)
}

// Process runs one delivery pass over msg and mutates its status in place.
// It returns nil when the message is fully handled (delivered or terminally
// failed) and a *types.RetryableError when the queue should redeliver it.
func (p *Processor) Process(ctx context.Context, msg *types.NotificationMessage) error {
	ctx, span := p.tracer.Start(ctx, "notifications.Process", trace.WithAttributes(
		attribute.String("notification.id", msg.ID),
		attribute.Int("notification.channels", len(msg.Channels)),
	))
	defer span.End()

	now := p.clock.Now()
	msg.Status.State = types.StateProcessing
	msg.Status.LastAttemptAt = &now
	msg.Status.Attempts++
	msg.Status.Error = ""
	msg.Status.Deliveries = make([]types.ChannelDelivery, 0, len(msg.Channels))
	msg.UpdatedAt = now
	p.track(ctx, msg)

	log := p.logger.With("notification_id", msg.ID, "attempt", msg.Status.Attempts)
	log.Info("processing notification")

	var (
		lastErr    error
		retry      bool
		retryDelay time.Duration
		exhausted  []types.ChannelType
	)

	for _, entry := range msg.Channels {
		if entry.DelayMs > 0 {
			if err := p.sleep(ctx, time.Duration(entry.DelayMs)*time.Millisecond); err != nil {
				// Shutdown mid-pass: hand the message back untouched by policy.
				msg.Status.State = types.StateRetry
				msg.Status.Error = err.Error()
				p.track(ctx, msg)
				return fmt.Errorf("processing %s interrupted: %w", msg.ID, err)
			}
		}

		result, elapsed, err := p.deliver(ctx, msg, entry)
		p.metrics.ObserveDuration(ctx, entry.Type, elapsed)

		delivery := types.ChannelDelivery{
			Type:       entry.Type,
			Name:       entry.Name,
			DurationMs: elapsed.Milliseconds(),
		}
		if result != nil {
			delivery.Provider = result.Provider
			delivery.MessageID = result.MessageID
		}

		if err == nil {
			delivery.Success = true
			msg.Status.Deliveries = append(msg.Status.Deliveries, delivery)
			msg.Status.State = types.StateDelivered
			msg.Status.DeliveryInfo = result.Details
			p.metrics.NotificationProcessed(ctx, entry.Type, types.OutcomeSuccess)
			log.Info("notification delivered",
				"channel", string(entry.Type),
				"provider", result.Provider,
				"message_id", result.MessageID,
				"duration_ms", elapsed.Milliseconds(),
			)
			continue
		}

		kind := types.ErrorKindOf(err)
		delivery.Error = err.Error()
		msg.Status.Deliveries = append(msg.Status.Deliveries, delivery)
		p.metrics.ChannelError(ctx, entry.Type, kind)
		log.Error("channel delivery failed",
			"channel", string(entry.Type),
			"error_type", string(kind),
			"error", err.Error(),
		)
		lastErr = fmt.Errorf("%s: %w", entry.Type, err)

		policy := entry.Policy()
		if ShouldRetry(policy, msg.Status.Attempts) {
			retry = true
			if d := CalculateNextRetry(policy, msg.Status.Attempts-1); d > retryDelay {
				retryDelay = d
			}
		} else {
			exhausted = append(exhausted, entry.Type)
		}
	}

	msg.UpdatedAt = p.clock.Now()
	switch {
	case retry:
		msg.Status.State = types.StateRetry
		msg.Status.Error = lastErr.Error()
		p.track(ctx, msg)
		span.SetStatus(codes.Error, "retry scheduled")
		log.Warn("notification scheduled for retry", "delay_ms", retryDelay.Milliseconds())
		return &types.RetryableError{Err: lastErr, Delay: retryDelay}

	case lastErr != nil:
		msg.Status.State = types.StateFailed
		msg.Status.Error = lastErr.Error()
		for _, t := range exhausted {
			p.metrics.NotificationProcessed(ctx, t, types.OutcomeFailure)
		}
		p.track(ctx, msg)
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "delivery failed")
		log.Error("notification failed permanently", "error", lastErr.Error())
		return nil
	}

	p.track(ctx, msg)
	return nil
}

// deliver performs one Send under the per-call timeout. A result with
// Success=false is converted into an error.
func (p *Processor) deliver(ctx context.Context, msg *types.NotificationMessage, entry types.ChannelEntry) (*types.DeliveryResult, time.Duration, error) {
	start := time.Now()

	ch, ok := p.registry.Get(entry.Type)
	if !ok {
		return nil, time.Since(start), types.NewDeliveryError(types.ErrorKindConfig,
			fmt.Errorf("no adapter registered for channel type %q", entry.Type))
	}
	if !ch.Validate(entry.Config) {
		return nil, time.Since(start), types.NewDeliveryError(types.ErrorKindConfig,
			fmt.Errorf("invalid %s channel config", entry.Type))
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	type outcome struct {
		res *types.DeliveryResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("channel %s panicked: %v", entry.Type, r)}
			}
		}()
		res, err := ch.Send(sendCtx, msg.Content, entry.Config)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-sendCtx.Done():
		out.err = sendCtx.Err()
	}
	elapsed := time.Since(start)

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return out.res, elapsed, types.NewDeliveryError(types.ErrorKindTimeout,
				fmt.Errorf("send timed out after %s: %w", p.sendTimeout, out.err))
		}
		return out.res, elapsed, out.err
	}
	if out.res == nil {
		return nil, elapsed, types.NewDeliveryError(types.ErrorKindProvider, errors.New("channel returned no result"))
	}
	if !out.res.Success {
		reason := out.res.Error
		if reason == "" {
			reason = "delivery failed"
		}
		return out.res, elapsed, types.NewDeliveryError(types.ErrorKindProvider, errors.New(reason))
	}
	return out.res, elapsed, nil
}

func (p *Processor) track(ctx context.Context, msg *types.NotificationMessage) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.Track(ctx, msg); err != nil {
		p.logger.Warn("failed to record notification status",
			"notification_id", msg.ID,
			"state", string(msg.Status.State),
			"error", err.Error(),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
