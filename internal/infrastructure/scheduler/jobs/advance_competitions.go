package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyhub/league-core/internal/application/command"
	"github.com/studyhub/league-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCE COMPETITIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Advancer moves due competitions through their lifecycle.
type Advancer interface {
	Handle(ctx context.Context) (*command.AdvanceResult, error)
}

// AdvanceCompetitionsJob opens scheduled competitions and finishes ended ones.
type AdvanceCompetitionsJob struct {
	advancer Advancer
	logger   *slog.Logger
}

// NewAdvanceCompetitionsJob creates a new AdvanceCompetitionsJob.
func NewAdvanceCompetitionsJob(advancer Advancer, log *slog.Logger) *AdvanceCompetitionsJob {
	return &AdvanceCompetitionsJob{
		advancer: advancer,
		logger:   logger.OrDefault(log).With(logger.Component("job.advance_competitions")),
	}
}

func (j *AdvanceCompetitionsJob) Name() string { return "advance_competitions" }

func (j *AdvanceCompetitionsJob) Description() string {
	return "Open scheduled competitions, close and reward finished ones"
}

// Run fails when any competition failed so the failure shows in job metrics;
// the others in the batch are still advanced.
func (j *AdvanceCompetitionsJob) Run(ctx context.Context) error {
	res, err := j.advancer.Handle(ctx)
	if err != nil {
		return err
	}
	if res.Opened > 0 || res.Finished > 0 {
		j.logger.Info("competitions advanced", "opened", res.Opened, "finished", res.Finished)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d competitions failed to advance", res.Failed)
	}
	return nil
}
