package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/app"
	"github.com/studyhub/league-core/internal/infrastructure/scheduler"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// RegisterAll registers every league job on s with the configured cadence.
func RegisterAll(
	s *scheduler.Scheduler,
	a *app.App,
	cfg config.SchedulerConfig,
	pipeline config.PipelineConfig,
	loc *time.Location,
	clock timeutil.Clock,
	log *slog.Logger,
) error {
	retention, err := scheduler.ParseCron(cfg.RetentionSchedule, loc)
	if err != nil {
		return fmt.Errorf("retention schedule: %w", err)
	}

	entries := []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
	}{
		{NewSettleSessionsJob(a.Settler, clock, log), scheduler.Every(cfg.SettleInterval)},
		{NewRecomputeStandingsJob(a.Recompute, log), scheduler.Every(cfg.RecomputeInterval)},
		{NewAdvanceCompetitionsJob(a.Advance, log), scheduler.Every(cfg.LifecycleInterval)},
		{NewRestrictionHousekeepingJob(a.RestrictionAdmin, 0), scheduler.Every(cfg.HousekeepingInterval)},
		{NewEventRetentionJob(a.Stores.Events, pipeline.EventRetention, clock, log), retention},
	}
	for _, e := range entries {
		if err := s.Register(e.job, e.schedule); err != nil {
			return err
		}
	}
	return nil
}
