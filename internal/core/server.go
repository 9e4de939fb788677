// Package core provides the API chassis for copyforge. It builds a chi router
// that serves both a plain HTTP listener (local dev) and AWS Lambda proxy
// integration, and it enforces the cross-cutting concerns (recovery, logging,
// metrics, authentication, rate limiting, error envelopes) before requests
// reach the domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"copyforge/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	// RecordRequest is called once per request with the chi route pattern
	// (not the raw path) so label cardinality stays bounded.
	RecordRequest(method, route, status string, duration time.Duration)
}

// Server holds the chassis dependencies. Fields are exported so the entry
// point and tests can inject them before MountRoutes is called.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	MetricsHandler http.Handler // served at /metrics when set
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	// RateLimits maps "METHOD /path" to the per-user limit for that route.
	RateLimits   map[string]RateLimitRule
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount the domain handlers under /v1. They are
	// populated by main.go so core never imports the handler packages.
	V1RouteRegistrars []func(r chi.Router)

	closers []func() error
	router  *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// The caller mounts routes with MountRoutes after injecting optional fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server or the
// Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a resource to close when Shutdown runs. Closers run in
// reverse registration order.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases the registered resources (database pool, Redis client,
// model client). Every closer runs even if an earlier one fails.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing resources: %w", errors.Join(errs...))
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
