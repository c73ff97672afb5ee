// Package main is the entry point of the league API: activity capture,
// manual sessions, competitions, leaderboards, reports and the operator API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/app"
	apihttp "github.com/studyhub/league-core/internal/interface/http"
	"github.com/studyhub/league-core/internal/interface/http/handlers"
	"github.com/studyhub/league-core/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := app.Bootstrap(ctx, cfg, "league-api")
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.Logger

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if rt.Infra.Postgres != nil {
		health.AddCheck("postgres", handlers.PingCheck(rt.Infra.Postgres))
	}
	if rt.Infra.Redis != nil {
		health.AddCheck("redis", handlers.PingCheck(rt.Infra.Redis))
	}

	deps := apihttp.Dependencies{
		App:      rt.App,
		Health:   health,
		Observer: rt.Metrics,
		Features: rt.Features,
		Logger:   log,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Gatherer = rt.Registry
	}
	server := apihttp.NewServer(cfg.HTTP, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", logger.Err(err))
	}
	log.Info("shutdown completed")
	return nil
}
