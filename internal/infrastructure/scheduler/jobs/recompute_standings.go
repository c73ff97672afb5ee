package jobs

import (
	"context"
	"log/slog"

	"github.com/studyhub/league-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE STANDINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// OpenRecomputer recomputes the standings of every open competition.
type OpenRecomputer interface {
	RecomputeOpen(ctx context.Context) (int, error)
}

// RecomputeStandingsJob refreshes live standings between lifecycle ticks.
type RecomputeStandingsJob struct {
	recomputer OpenRecomputer
	logger     *slog.Logger
}

// NewRecomputeStandingsJob creates a new RecomputeStandingsJob.
func NewRecomputeStandingsJob(recomputer OpenRecomputer, log *slog.Logger) *RecomputeStandingsJob {
	return &RecomputeStandingsJob{
		recomputer: recomputer,
		logger:     logger.OrDefault(log).With(logger.Component("job.recompute_standings")),
	}
}

func (j *RecomputeStandingsJob) Name() string { return "recompute_standings" }

func (j *RecomputeStandingsJob) Description() string {
	return "Rank participants of every open competition"
}

func (j *RecomputeStandingsJob) Run(ctx context.Context) error {
	n, err := j.recomputer.RecomputeOpen(ctx)
	j.logger.Debug("standings recomputed", "competitions", n)
	return err
}
