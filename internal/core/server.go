// Package core provides the HTTP chassis for hookrouter: a chi router with
// the global middleware chain, the JSON envelope helpers and the health
// endpoint. Domain handlers mount themselves under /v1 through
// V1RouteRegistrars so core never imports them.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"hookrouter/internal/config"
	"hookrouter/internal/types"
)

// Server holds the router and the cross-cutting dependencies used by the
// middleware chain.
type Server struct {
	Config    *config.Config
	Logger    types.Logger
	Validator *Validator

	// Auth verifies X-API-Key. Built from Config.Security by NewServer.
	Auth *APIKeyAuth
	// Limiter enforces the per-client request budget. Nil disables it.
	Limiter *ClientLimiter

	HealthProbes      []HealthProbe
	V1RouteRegistrars []func(r chi.Router)

	router *chi.Mux
}

// NewServer validates the configuration needed by the chassis and builds
// the API key verifier and rate limiter. Call MountRoutes once handlers
// are registered.
func NewServer(cfg *config.Config, logger types.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	auth, err := NewAPIKeyAuth(cfg.Security.APIKeyHashes, cfg.IsLocal())
	if err != nil {
		return nil, err
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		Auth:      auth,
		Limiter: NewClientLimiter(
			cfg.Security.RateLimitMaxRequests,
			cfg.Security.RateLimitWindow(),
			types.RealClock{},
		),
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// BodyLimit is the request body cap for handlers.
func (s *Server) BodyLimit() int64 {
	if s.Config != nil && s.Config.Server.BodyLimitBytes > 0 {
		return s.Config.Server.BodyLimitBytes
	}
	return DefaultBodyLimit
}

func (s *Server) version() string {
	if s.Config == nil {
		return ""
	}
	return s.Config.Build.Version
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout. The limiter's idle
// sweeper runs alongside the listener.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.Config.Server.ReadTimeout,
		WriteTimeout:      s.Config.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if s.Limiter != nil {
		g.Go(func() error {
			s.Limiter.RunSweeper(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		s.Logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
