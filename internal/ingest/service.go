// Package ingest accepts normalized webhook events and routes them in the
// background so the HTTP handler can acknowledge before routing finishes.
package ingest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hookrouter/internal/types"
)

// Webhook outcome labels recorded on the webhooks_received metric.
const (
	StatusAccepted   = "accepted"
	StatusRejected   = "rejected"
	StatusRouted     = "routed"
	StatusRouteError = "route_error"
)

// ErrBusy is returned by Submit when the buffer is full.
var ErrBusy = errors.New("ingest buffer full")

// ErrStopped is returned by Submit after Run has returned.
var ErrStopped = errors.New("ingest service stopped")

// drainTimeout bounds the routing of buffered events during shutdown.
const drainTimeout = 10 * time.Second

// Router routes one event. *routing.Engine satisfies it.
type Router interface {
	RouteEvent(ctx context.Context, ev *types.Event) ([]*types.NotificationMessage, error)
}

// Archiver stores raw events. *archive.Archiver satisfies it.
type Archiver interface {
	Archive(ctx context.Context, ev *types.Event) (string, error)
}

// Config tunes the worker pool.
type Config struct {
	Workers int
	Buffer  int
}

// Service owns a bounded buffer of accepted events and a fixed worker pool.
type Service struct {
	router   Router
	archiver Archiver
	metrics  types.MetricsRecorder
	clock    types.Clock
	logger   types.Logger
	workers  int

	events chan *types.Event

	// mu orders Submit against shutdown: once closed is set no event can
	// enter the buffer, so the drain sees every accepted event.
	mu     sync.RWMutex
	closed bool
}

// NewService wires a Service. archiver may be nil.
func NewService(cfg Config, router Router, archiver Archiver, metrics types.MetricsRecorder, clock types.Clock, logger types.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Service{
		router:   router,
		archiver: archiver,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
		workers:  cfg.Workers,
		events:   make(chan *types.Event, cfg.Buffer),
	}
}

// NewEvent normalizes an inbound payload. Credentials and signatures are
// dropped from the captured headers.
func (s *Service) NewEvent(source string, data map[string]any, header http.Header) *types.Event {
	if data == nil {
		data = map[string]any{}
	}
	return &types.Event{
		ID:         uuid.NewString(),
		ReceivedAt: s.clock.Now().UTC(),
		Source:     source,
		Data:       data,
		Headers:    CaptureHeaders(header),
	}
}

var droppedHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"x-api-key":           true,
	"x-webhook-signature": true,
	"proxy-authorization": true,
}

// CaptureHeaders flattens header to lower-case keys, keeping the first value.
func CaptureHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, v := range header {
		key := strings.ToLower(k)
		if droppedHeaders[key] || len(v) == 0 {
			continue
		}
		out[key] = v[0]
	}
	return out
}

// Submit queues ev for routing without blocking.
func (s *Service) Submit(ev *types.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStopped
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return ErrBusy
	}
}

// Pending reports the number of buffered events.
func (s *Service) Pending() int { return len(s.events) }

// Run processes events until ctx is done, then routes whatever is still
// buffered within drainTimeout.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev := <-s.events:
					s.process(gctx, ev)
				}
			}
		})
	}
	err := g.Wait()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-s.events:
			s.process(dctx, ev)
		default:
			return err
		}
	}
}

// process archives then routes one event. Archive failures never block
// routing.
func (s *Service) process(ctx context.Context, ev *types.Event) {
	log := s.logger.With("event_id", ev.ID, "source", ev.Source)

	if s.archiver != nil {
		if _, err := s.archiver.Archive(ctx, ev); err != nil {
			log.Warn("event archive failed", "error", err.Error())
		}
	}

	msgs, err := s.router.RouteEvent(ctx, ev)
	if err != nil {
		log.Error("routing failed", "error", err.Error(), "enqueued", len(msgs))
		s.metrics.WebhookReceived(ctx, ev.Source, StatusRouteError)
		return
	}
	log.Info("event routed", "notifications", len(msgs))
	s.metrics.WebhookReceived(ctx, ev.Source, StatusRouted)
}
