package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTE REWARDS COMMAND
// Closes an ended competition (final recompute, ranks frozen), issues one
// reward per qualifying participant and marks the competition rewarded.
// Every step is idempotent, so a crashed run is finished by the next one.
// Reward notifications are delivered at least once.
// ══════════════════════════════════════════════════════════════════════════════

// DistributeRewardsCommand targets one competition.
type DistributeRewardsCommand struct {
	CompetitionID string
}

// Validate validates the command.
func (c DistributeRewardsCommand) Validate() error {
	if strings.TrimSpace(c.CompetitionID) == "" {
		return shared.NewDomainError("competition", "Distribute", shared.ErrInvalidID, "competition ID is required")
	}
	return nil
}

// DistributeRewardsResult reports what this call issued.
type DistributeRewardsResult struct {
	CompetitionID string                      `json:"competition_id"`
	Issued        []*competition.RewardRecord `json:"issued"`

	// Skipped counts rewards that already existed.
	Skipped int `json:"skipped"`

	// AlreadyRewarded is set when the competition was finished before this call.
	AlreadyRewarded bool `json:"already_rewarded"`
}

// DistributeRewardsHandler handles DistributeRewardsCommand.
type DistributeRewardsHandler struct {
	competitions competition.Repository
	rewards      competition.RewardRepository
	recompute    *RecomputeStandingsHandler
	publisher    shared.EventPublisher
	clock        timeutil.Clock
	logger       *slog.Logger
}

// NewDistributeRewardsHandler creates a new DistributeRewardsHandler.
func NewDistributeRewardsHandler(
	competitions competition.Repository,
	rewards competition.RewardRepository,
	recompute *RecomputeStandingsHandler,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *DistributeRewardsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &DistributeRewardsHandler{
		competitions: competitions,
		rewards:      rewards,
		recompute:    recompute,
		publisher:    publisher,
		clock:        clock,
		logger:       logger.OrDefault(log).With(logger.Component("distribute_rewards")),
	}
}

// Handle executes the distribution.
func (h *DistributeRewardsHandler) Handle(ctx context.Context, cmd DistributeRewardsCommand) (*DistributeRewardsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	c, err := h.competitions.GetByID(ctx, cmd.CompetitionID)
	if err != nil {
		return nil, err
	}
	result := &DistributeRewardsResult{CompetitionID: c.ID}

	if c.Status == competition.StatusRewarded {
		result.AlreadyRewarded = true
		return result, nil
	}
	if c.EffectiveStatus(now) != competition.StatusClosed {
		return nil, shared.WrapError("competition", "Distribute", shared.ErrInvalidTransition,
			fmt.Sprintf("competition ends at %s", c.End.Format(time.RFC3339)), nil)
	}

	if err := h.close(ctx, c); err != nil {
		return nil, err
	}

	participants, err := h.competitions.ListParticipants(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("distribute: list participants: %w", err)
	}

	// Each reward is announced as soon as it is stored. Rewards found already
	// issued are announced again while the competition is not yet marked
	// rewarded, since the run that stored them may have died before publishing.
	for _, rec := range competition.PlanRewards(c, participants, now) {
		issued, err := h.rewards.IssueIfAbsent(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("distribute: issue reward: %w", err)
		}
		if issued {
			result.Issued = append(result.Issued, rec)
		} else {
			result.Skipped++
		}
		h.publish(shared.NewRewardIssuedEvent(
			c.ID, string(rec.UserID), rec.Tier, rec.Rank.Int(), rec.Points, rec.Badge))
	}

	if err := h.competitions.UpdateStatus(ctx, c.ID, competition.StatusClosed, competition.StatusRewarded); err != nil {
		return nil, fmt.Errorf("distribute: mark rewarded: %w", err)
	}
	h.publish(shared.NewCompetitionStatusChangedEvent(
		c.ID, string(competition.StatusClosed), string(competition.StatusRewarded)))

	h.logger.Info("rewards distributed",
		logger.CompetitionID(c.ID), "issued", len(result.Issued), "skipped", result.Skipped)

	return result, nil
}

// close freezes final ranks and moves the stored status to closed.
func (h *DistributeRewardsHandler) close(ctx context.Context, c *competition.Competition) error {
	if _, err := h.recompute.Handle(ctx, RecomputeStandingsCommand{CompetitionID: c.ID, Final: true}); err != nil {
		return fmt.Errorf("distribute: final recompute: %w", err)
	}
	if c.Status == competition.StatusClosed {
		return nil
	}

	from := c.Status
	if err := h.competitions.UpdateStatus(ctx, c.ID, from, competition.StatusClosed); err != nil {
		return fmt.Errorf("distribute: close: %w", err)
	}
	c.Status = competition.StatusClosed

	h.publish(shared.NewCompetitionStatusChangedEvent(c.ID, string(from), string(competition.StatusClosed)))
	return nil
}

func (h *DistributeRewardsHandler) publish(ev shared.Event) {
	if err := h.publisher.Publish(ev); err != nil {
		h.logger.Warn("failed to publish event", "type", ev.EventType(), logger.Err(err))
	}
}
