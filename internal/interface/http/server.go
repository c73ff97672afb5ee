// Package http hosts the league's REST surface: the user-facing API under
// /api/v1, the operator API under /admin/v1, probes and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/app"
	"github.com/studyhub/league-core/internal/interface/http/handlers"
	"github.com/studyhub/league-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Observer receives request and join-rejection counts. The metrics
// collectors implement it.
type Observer interface {
	handlers.RequestObserver
	handlers.RejectionObserver
}

// Dependencies contains everything the routes call into.
type Dependencies struct {
	App    *app.App
	Health *handlers.CompositeHealthChecker

	// Jobs backs /admin/v1/jobs. Nil when the scheduler runs elsewhere.
	Jobs handlers.JobRunner

	// Observer and Gatherer are both optional. /metrics is served only
	// when Gatherer is set.
	Observer Observer
	Gatherer prometheus.Gatherer

	// Features gates optional endpoints. Nil serves everything.
	Features *config.FeatureFlags

	// AdminOnly drops /api/v1, for the worker's listener.
	AdminOnly bool

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP listener.
type Server struct {
	cfg        config.HTTPConfig
	deps       Dependencies
	router     chi.Router
	httpServer *http.Server
	limiter    *handlers.UserRateLimiter
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg config.HTTPConfig, deps Dependencies) *Server {
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker("")
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: handlers.NewUserRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		logger:  logger.OrDefault(deps.Logger).With(logger.Component("http_server")),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	var requests handlers.RequestObserver
	var rejections handlers.RejectionObserver
	if s.deps.Observer != nil {
		requests, rejections = s.deps.Observer, s.deps.Observer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.RequestLogger(s.deps.Logger, requests))
	r.Use(middleware.Recoverer)

	// ─────────────────────────────────────────────────────────────────────────
	// Probes & metrics
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/health", s.deps.Health.Health)
	r.Get("/ready", s.deps.Health.Ready)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	if s.deps.App != nil {
		if !s.deps.AdminOnly {
			r.Route("/api/v1", func(r chi.Router) {
				handlers.NewAPI(s.deps.App, rejections, s.deps.Features).Routes(r, s.limiter)
			})
		}

		if s.cfg.AdminAPIKey != "" {
			r.Route("/admin/v1", func(r chi.Router) {
				r.Use(handlers.APIKeyAuth(s.cfg.AdminAPIKey))
				handlers.NewAdmin(s.deps.App, s.deps.Jobs, s.deps.Features).Routes(r)
			})
		}
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown. It also evicts idle rate-limit buckets.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.limiter.Cleanup(ctx, time.Minute)

	s.logger.Info("starting HTTP server",
		"address", s.httpServer.Addr,
		"admin_enabled", s.cfg.AdminAPIKey != "",
		"metrics_enabled", s.deps.Gatherer != nil,
	)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}
