// Package jobs contains the scheduled jobs of the league worker.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTLE SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// DueSettler settles users whose activity has gone quiet.
type DueSettler interface {
	SettleDue(ctx context.Context, now time.Time) (int, error)
}

// SettleSessionsJob closes sessions for users who submitted activity and then
// stopped. Without it their last span would wait for their next submission.
type SettleSessionsJob struct {
	settler DueSettler
	clock   timeutil.Clock
	logger  *slog.Logger
}

// NewSettleSessionsJob creates a new SettleSessionsJob.
func NewSettleSessionsJob(settler DueSettler, clock timeutil.Clock, log *slog.Logger) *SettleSessionsJob {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &SettleSessionsJob{
		settler: settler,
		clock:   clock,
		logger:  logger.OrDefault(log).With(logger.Component("job.settle_sessions")),
	}
}

func (j *SettleSessionsJob) Name() string { return "settle_sessions" }

func (j *SettleSessionsJob) Description() string {
	return "Classify and validate sessions whose merge gap has elapsed"
}

func (j *SettleSessionsJob) Run(ctx context.Context) error {
	n, err := j.settler.SettleDue(ctx, j.clock.Now())
	if n > 0 {
		j.logger.Info("users settled", "count", n)
	}
	return err
}
