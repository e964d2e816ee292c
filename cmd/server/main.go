// Package main is the entry point for the hookrouter API server.
//
// It loads configuration, builds the rule store, queue, channel registry and
// routing engine, mounts the HTTP API and runs every long-lived component
// (listener, ingest workers, queue workers, rule file watcher, scheduler)
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"hookrouter/internal/api/handlers"
	"hookrouter/internal/bootstrap"
	"hookrouter/internal/config"
	"hookrouter/internal/core"
	"hookrouter/internal/ingest"
	"hookrouter/internal/logging"
	ncore "hookrouter/internal/notifications/core"
	"hookrouter/internal/routing"
	"hookrouter/internal/scheduler"
	"hookrouter/internal/telemetry"
	"hookrouter/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.Adapt(logging.New(cfg.LogLevel))
	logger.Info("hookrouter starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"queue_backend", cfg.Queue.Backend,
		"rules_backend", cfg.Rules.Backend,
	)

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    cfg.Service,
		ServiceVersion: cfg.Build.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err.Error())
		}
	}()

	a, err := build(ctx, cfg, tel, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.run(ctx)
}

// app holds the wired components of one server process.
type app struct {
	cfg       *config.Config
	logger    types.Logger
	server    *core.Server
	ingest    *ingest.Service
	queue     *bootstrap.Queue
	stores    *bootstrap.Stores
	scheduler *scheduler.Scheduler
}

func build(ctx context.Context, cfg *config.Config, tel *telemetry.Providers, logger types.Logger) (*app, error) {
	clock := types.RealClock{}

	awsCfg, err := bootstrap.AWS(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	metrics, err := bootstrap.Metrics(cfg.Observability, awsCfg, tel.MeterProvider, logger)
	if err != nil {
		return nil, err
	}
	registry, err := bootstrap.Channels(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	archiver, err := bootstrap.Archiver(cfg.AWS, awsCfg, logger.With("component", "archive"))
	if err != nil {
		return nil, err
	}

	stores, err := bootstrap.OpenStores(ctx, cfg.Rules, clock, logger)
	if err != nil {
		return nil, err
	}
	q, err := bootstrap.OpenQueue(ctx, cfg.Queue, awsCfg, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, queue: q, stores: stores}

	if q.Worker != nil {
		processor := ncore.NewProcessor(registry, metrics, stores.Tracker, clock,
			logger.With("component", "processor"),
			ncore.ProcessorConfig{SendTimeout: cfg.Dispatch.SendTimeout})
		q.Worker.RegisterHandler(processor.Handle, cfg.Queue.Workers)
	}

	engine := routing.NewEngine(
		stores.Rules,
		q.Enqueuer,
		routing.NewEvaluator(clock, logger.With("component", "evaluator")),
		routing.NewTransformer(logger.With("component", "transformer")),
		clock,
		logger.With("component", "routing"),
	)
	a.ingest = ingest.NewService(
		ingest.Config{Workers: cfg.Server.IngestWorkers, Buffer: cfg.Server.IngestBuffer},
		engine, archiver, metrics, clock, logger.With("component", "ingest"),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, core.QueueProbe(q.Status), core.RuleStoreProbe(stores.Rules))
	srv.HealthProbes = append(srv.HealthProbes, stores.Probes...)

	webhookHandler := handlers.NewWebhookHandler(a.ingest, metrics, srv.BodyLimit(), logger)
	ruleHandler := handlers.NewRuleHandler(stores.Rules, registry, engine, srv.Validator, clock, srv.BodyLimit())
	channelHandler := handlers.NewChannelHandler(registry, srv.Validator, cfg.Dispatch.SendTimeout, srv.BodyLimit())
	notificationHandler := handlers.NewNotificationHandler(q.Status, stores.Tracker, q.Enqueuer, clock)

	secure := srv.RequireSignature(cfg.Security.WebhookSecret)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { webhookHandler.RegisterRoutes(r, secure) },
		ruleHandler.RegisterRoutes,
		channelHandler.RegisterRoutes,
		notificationHandler.RegisterRoutes,
	)
	srv.MountRoutes()
	a.server = srv

	a.scheduler = scheduler.New(logger.With("component", "scheduler"), clock)
	maint := &scheduler.Maintenance{
		Queue:     q.Status,
		Metrics:   metrics,
		Pruner:    q.Pruner,
		Statuses:  stores.Tracker,
		Retention: cfg.Observability.StatusRetention,
		Clock:     clock,
		Logger:    logger.With("component", "maintenance"),
	}
	if stores.RuleFile != nil {
		maint.Rules = stores.RuleFile
	}
	if err := maint.Register(a.scheduler, scheduler.Schedules{
		QueueDepth: cfg.Observability.QueueDepthSpec,
		Prune:      cfg.Observability.PruneSpec,
		RuleReload: cfg.Rules.ReloadSpec,
	}); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// run blocks until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.ListenAndServe(ctx, ":"+a.cfg.Server.Port) })
	g.Go(func() error { return a.ingest.Run(ctx) })
	g.Go(func() error { return a.scheduler.Run(ctx) })
	if a.queue.Worker != nil {
		g.Go(func() error { return a.queue.Worker.Start(ctx) })
	}
	if a.stores.RuleFile != nil {
		g.Go(func() error { return a.stores.RuleFile.Watch(ctx) })
	}

	err := g.Wait()
	a.logger.Info("hookrouter stopped")
	return err
}

func (a *app) close() {
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("queue close", "error", err.Error())
	}
	a.stores.Close()
}
