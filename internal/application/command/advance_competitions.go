package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCE COMPETITIONS
// Catches the stored status up with the clock:
// scheduled -> open at start, then at end a final recompute, closed and rewarded.
// ══════════════════════════════════════════════════════════════════════════════

// AdvanceResult counts what one pass did.
type AdvanceResult struct {
	Opened   int
	Finished int
	Failed   int
}

// AdvanceCompetitionsHandler drives the competition lifecycle.
type AdvanceCompetitionsHandler struct {
	competitions competition.Repository
	distribute   *DistributeRewardsHandler
	publisher    shared.EventPublisher
	clock        timeutil.Clock
	batchSize    int
	logger       *slog.Logger
}

// NewAdvanceCompetitionsHandler creates a new AdvanceCompetitionsHandler.
func NewAdvanceCompetitionsHandler(
	competitions competition.Repository,
	distribute *DistributeRewardsHandler,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	batchSize int,
	log *slog.Logger,
) *AdvanceCompetitionsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &AdvanceCompetitionsHandler{
		competitions: competitions,
		distribute:   distribute,
		publisher:    publisher,
		clock:        clock,
		batchSize:    batchSize,
		logger:       logger.OrDefault(log).With(logger.Component("advance_competitions")),
	}
}

// Handle advances every due competition.
func (h *AdvanceCompetitionsHandler) Handle(ctx context.Context) (*AdvanceResult, error) {
	now := h.clock.Now()
	due, err := h.competitions.ListDue(ctx, now, h.batchSize)
	if err != nil {
		return nil, fmt.Errorf("advance: list due: %w", err)
	}

	result := &AdvanceResult{}
	for _, c := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if c.EffectiveStatus(now) == competition.StatusOpen && c.Status == competition.StatusScheduled {
			if err := h.open(ctx, c); err != nil {
				h.logger.Error("failed to open competition", logger.CompetitionID(c.ID), logger.Err(err))
				result.Failed++
				continue
			}
			result.Opened++
			continue
		}

		if _, err := h.distribute.Handle(ctx, DistributeRewardsCommand{CompetitionID: c.ID}); err != nil {
			h.logger.Error("failed to finish competition", logger.CompetitionID(c.ID), logger.Err(err))
			result.Failed++
			continue
		}
		result.Finished++
	}
	return result, nil
}

func (h *AdvanceCompetitionsHandler) open(ctx context.Context, c *competition.Competition) error {
	if err := h.competitions.UpdateStatus(ctx, c.ID, competition.StatusScheduled, competition.StatusOpen); err != nil {
		return err
	}
	if err := h.publisher.Publish(shared.NewCompetitionStatusChangedEvent(
		c.ID, string(competition.StatusScheduled), string(competition.StatusOpen))); err != nil {
		h.logger.Warn("failed to publish status change", logger.Err(err))
	}
	h.logger.Info("competition opened", logger.CompetitionID(c.ID))
	return nil
}
