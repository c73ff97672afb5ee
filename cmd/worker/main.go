// Package main is the league worker. It settles quiet users, recomputes
// standings, moves competitions through their lifecycle and purges old data.
// A small listener exposes probes, metrics and the admin API with job control.
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
	"github.com/studyhub/league-core/internal/infrastructure/scheduler"
	"github.com/studyhub/league-core/internal/infrastructure/scheduler/jobs"
	apihttp "github.com/studyhub/league-core/internal/interface/http"
	"github.com/studyhub/league-core/internal/interface/http/handlers"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
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
	if !cfg.Scheduler.Enabled {
		return errors.New("SCHEDULER_ENABLED is false, nothing to run")
	}

	rt, err := app.Bootstrap(ctx, cfg, "league-worker")
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.Logger

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Observer:   rt.Metrics,
	})
	if err := jobs.RegisterAll(sched, rt.App, cfg.Scheduler, cfg.Pipeline,
		cfg.App.Location, timeutil.SystemClock{}, log); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Admin listener
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if rt.Infra.Postgres != nil {
		health.AddCheck("postgres", handlers.PingCheck(rt.Infra.Postgres))
	}
	if rt.Infra.Redis != nil {
		health.AddCheck("redis", handlers.PingCheck(rt.Infra.Redis))
	}
	httpCfg := cfg.HTTP
	httpCfg.Port = cfg.Scheduler.HTTPPort
	deps := apihttp.Dependencies{
		App:       rt.App,
		Health:    health,
		Jobs:      sched,
		Observer:  rt.Metrics,
		AdminOnly: true,
		Logger:    log,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Gatherer = rt.Registry
	}
	server := apihttp.NewServer(httpCfg, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	log.Info("worker is running", "jobs", len(sched.ListJobs()))

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error("http shutdown", logger.Err(serr))
	}
	if serr := sched.Stop(); serr != nil && !errors.Is(serr, scheduler.ErrSchedulerNotRunning) {
		log.Error("scheduler stop", logger.Err(serr))
	}
	log.Info("shutdown completed")
	return err
}
