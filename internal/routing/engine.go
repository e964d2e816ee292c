// Package routing turns inbound events into queued notification messages.
//
// The Engine fetches the rules that apply to an event's source, orders them
// by priority, evaluates each rule's conditions and, for every match, builds
// one NotificationMessage per channel entry. All matching rules fire; a match
// never short-circuits the remaining rules.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hookrouter/internal/types"
)

const tracerName = "hookrouter/internal/routing"

// Engine routes events to channels. It is safe for concurrent use; each call
// to RouteEvent enqueues a fresh set of messages.
type Engine struct {
	rules       types.RuleStore
	queue       types.Enqueuer
	evaluator   *Evaluator
	transformer *Transformer
	clock       types.Clock
	logger      types.Logger
	tracer      trace.Tracer
	newID       func() string
}

// NewEngine wires an Engine. queue may be nil when only DryRun is used.
func NewEngine(
	rules types.RuleStore,
	queue types.Enqueuer,
	evaluator *Evaluator,
	transformer *Transformer,
	clock types.Clock,
	logger types.Logger,
) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Engine{
		rules:       rules,
		queue:       queue,
		evaluator:   evaluator,
		transformer: transformer,
		clock:       clock,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		newID:       uuid.NewString,
	}
}

// RouteEvent builds messages for every matching rule and enqueues each at the
// priority mapped from its rule. Enqueue failures do not stop the remaining
// messages; they are joined into the returned error.
func (e *Engine) RouteEvent(ctx context.Context, ev *types.Event) ([]*types.NotificationMessage, error) {
	ctx, span := e.tracer.Start(ctx, "routing.RouteEvent", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.source", ev.Source),
	))
	defer span.End()

	msgs, err := e.build(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule lookup failed")
		return nil, err
	}
	if e.queue == nil {
		return nil, errors.New("routing engine has no queue")
	}

	var errs []error
	enqueued := make([]*types.NotificationMessage, 0, len(msgs))
	for _, msg := range msgs {
		jobID, err := e.queue.Enqueue(ctx, msg, msg.Priority.Weight())
		if err != nil {
			e.logger.Error("failed to enqueue notification",
				"notification_id", msg.ID,
				"event_id", ev.ID,
				"error", err.Error(),
			)
			errs = append(errs, fmt.Errorf("enqueue %s: %w", msg.ID, err))
			continue
		}
		e.logger.Info("notification enqueued",
			"notification_id", msg.ID,
			"job_id", jobID,
			"channel", string(msg.Channels[0].Type),
			"priority", msg.Priority.Weight(),
		)
		enqueued = append(enqueued, msg)
	}

	span.SetAttributes(attribute.Int("routing.messages", len(enqueued)))
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		return enqueued, err
	}
	return enqueued, nil
}

// DryRun returns the messages an event would produce without enqueueing them.
func (e *Engine) DryRun(ctx context.Context, ev *types.Event) ([]*types.NotificationMessage, error) {
	return e.build(ctx, ev)
}

func (e *Engine) build(ctx context.Context, ev *types.Event) ([]*types.NotificationMessage, error) {
	rules, err := e.rules.GetRulesForSource(ctx, ev.Source)
	if err != nil {
		return nil, fmt.Errorf("fetching rules for source %q: %w", ev.Source, err)
	}

	active := make([]*types.RoutingRule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.Enabled {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		e.logger.Warn("no enabled routing rules for source", "source", ev.Source, "event_id", ev.ID)
		return nil, nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	var msgs []*types.NotificationMessage
	for _, rule := range active {
		if !e.evaluator.Evaluate(&rule.Conditions, ev) {
			e.logger.Debug("rule did not match", "rule", rule.Name, "event_id", ev.ID)
			continue
		}
		e.logger.Info("rule matched", "rule", rule.Name, "rule_id", rule.ID, "event_id", ev.ID)

		var content types.MessageContent
		if rule.Transform != nil {
			content = e.transformer.Transform(ev.Data, rule.Transform)
		} else {
			content = DefaultContent(ev.Data)
		}

		for _, entry := range rule.Channels {
			entryContent := content
			if entry.Template != "" {
				entryContent = e.transformer.Transform(ev.Data, &types.TransformSpec{Template: entry.Template})
			}
			msgs = append(msgs, e.newMessage(ev, rule, entry, entryContent))
		}
	}
	return msgs, nil
}

func (e *Engine) newMessage(ev *types.Event, rule *types.RoutingRule, entry types.ChannelEntry, content types.MessageContent) *types.NotificationMessage {
	now := e.clock.Now()
	return &types.NotificationMessage{
		ID:       e.newID(),
		EventID:  ev.ID,
		Priority: rule.Conditions.Priority.OrDefault(),
		Channels: []types.ChannelEntry{entry},
		Content:  content,
		Metadata: map[string]any{
			types.MetaRuleID:   rule.ID,
			types.MetaRuleName: rule.Name,
			types.MetaSource:   ev.Source,
		},
		Status: types.MessageStatus{
			State:    types.StatePending,
			Attempts: 0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
