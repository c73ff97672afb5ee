package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/application/eventhandler"
	"github.com/studyhub/league-core/internal/infrastructure/messaging"
	"github.com/studyhub/league-core/internal/infrastructure/metrics"
	"github.com/studyhub/league-core/internal/infrastructure/service"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME
// ══════════════════════════════════════════════════════════════════════════════

// Runtime is a fully wired process: connections, event bus, metrics and the
// use cases on top of them.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Infra    *Infra
	Bus      *messaging.InMemoryEventBus
	Registry *prometheus.Registry
	Metrics  *metrics.Collectors
	Features *config.FeatureFlags
	App      *App
}

// Bootstrap builds the runtime for the named service from cfg.
func Bootstrap(ctx context.Context, cfg *config.Config, service string) (*Runtime, error) {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.Observability.LogFormat == string(logger.FormatJSON) {
		opts.Format = logger.FormatJSON
	}
	opts.Service = service
	opts.Version = cfg.App.Version
	log := logger.Setup(opts)
	log.Info("starting", "env", cfg.App.Environment, "timezone", cfg.App.Timezone)

	policy, err := config.LoadPolicy(cfg.App.PolicyPath)
	if err != nil {
		return nil, err
	}

	infra, err := Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Logger: log, Infra: infra, Features: config.LoadFeatureFlags()}

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = metrics.New(rt.Registry)

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.Observer = rt.Metrics
	rt.Bus = messaging.NewInMemoryEventBus(busCfg)

	if err := rt.Metrics.Subscribe(rt.Bus); err != nil {
		rt.Close()
		return nil, fmt.Errorf("subscribe metrics: %w", err)
	}
	if err := eventhandler.NewNotifyHandler(notifier(cfg.Notification, log), log, eventhandler.DefaultNotifyConfig()).Register(rt.Bus); err != nil {
		rt.Close()
		return nil, fmt.Errorf("subscribe notifier: %w", err)
	}

	rt.App, err = New(ctx, infra.Stores, Options{
		Policy:    policy,
		Pipeline:  cfg.Pipeline,
		Location:  cfg.App.Location,
		Clock:     timeutil.SystemClock{},
		Publisher: rt.Bus,
		Logger:    log,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func notifier(cfg config.NotificationConfig, log *slog.Logger) eventhandler.Notifier {
	if cfg.WebhookURL == "" {
		return service.NewLogNotifier(log)
	}
	return service.NewWebhookNotifier(service.WebhookConfig{
		URL:            cfg.WebhookURL,
		Secret:         cfg.WebhookSecret,
		RequestTimeout: cfg.RequestTimeout,
	}, nil, log)
}

// Close drains the event bus and releases connections.
func (rt *Runtime) Close() {
	if rt.Bus != nil {
		_ = rt.Bus.Close()
	}
	if rt.Infra != nil {
		rt.Infra.Close()
	}
}
