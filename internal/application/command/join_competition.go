package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOIN COMPETITION COMMAND
// The gate runs inside the repository's transaction, so capacity holds
// under concurrent joins.
// ══════════════════════════════════════════════════════════════════════════════

// JoinCompetitionCommand contains the data to join a competition.
type JoinCompetitionCommand struct {
	CompetitionID string
	UserID        shared.UserID

	// InviteCode is required for private competitions.
	InviteCode string
}

// Validate validates the command.
func (c JoinCompetitionCommand) Validate() error {
	if strings.TrimSpace(c.CompetitionID) == "" {
		return shared.NewDomainError("competition", "Join", shared.ErrInvalidID, "competition ID is required")
	}
	if !c.UserID.IsValid() {
		return shared.NewDomainError("competition", "Join", shared.ErrInvalidID, "invalid user ID")
	}
	return nil
}

// JoinCompetitionResult contains the new participant.
type JoinCompetitionResult struct {
	Participant *competition.Participant `json:"participant"`
	Capacity    int                      `json:"capacity"`
}

// JoinCompetitionHandler handles JoinCompetitionCommand.
type JoinCompetitionHandler struct {
	competitions competition.Repository
	balances     competition.BalanceReader
	publisher    shared.EventPublisher
	clock        timeutil.Clock
	logger       *slog.Logger
}

// NewJoinCompetitionHandler creates a new JoinCompetitionHandler.
func NewJoinCompetitionHandler(
	competitions competition.Repository,
	balances competition.BalanceReader,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *JoinCompetitionHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &JoinCompetitionHandler{
		competitions: competitions,
		balances:     balances,
		publisher:    publisher,
		clock:        clock,
		logger:       logger.OrDefault(log).With(logger.Component("join_competition")),
	}
}

// Handle executes the join. Rejections are *competition.JoinRejection values
// matching the shared join errors.
func (h *JoinCompetitionHandler) Handle(ctx context.Context, cmd JoinCompetitionCommand) (*JoinCompetitionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	balance, err := h.balances.Balance(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("join_competition: read balance: %w", err)
	}

	var capacity int
	p, err := h.competitions.Join(ctx, cmd.CompetitionID, cmd.UserID,
		func(c *competition.Competition, count int, joined bool) error {
			capacity = c.Capacity
			return competition.CheckJoin(competition.JoinRequest{
				Competition:   c,
				UserID:        cmd.UserID,
				Participants:  count,
				AlreadyJoined: joined,
				Balance:       balance,
				InviteCode:    cmd.InviteCode,
				Now:           now,
			})
		}, now)
	if err != nil {
		var rejection *competition.JoinRejection
		if errors.As(err, &rejection) {
			h.logger.Info("join rejected",
				logger.CompetitionID(cmd.CompetitionID),
				logger.UserID(string(cmd.UserID)),
				"reason", rejection.Reason)
			return nil, err
		}
		if shared.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("join_competition: %w", err)
	}

	if err := h.publisher.Publish(shared.NewParticipantJoinedEvent(cmd.CompetitionID, string(cmd.UserID))); err != nil {
		h.logger.Warn("failed to publish participant joined", logger.Err(err))
	}

	return &JoinCompetitionResult{Participant: p, Capacity: capacity}, nil
}
