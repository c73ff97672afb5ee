package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE COMPETITION COMMANDS
// Public leagues are created by operators from the per-type defaults.
// Private leagues are created by users and joined with an invite code.
// ══════════════════════════════════════════════════════════════════════════════

// CreateCompetitionCommand creates a public league.
type CreateCompetitionCommand struct {
	Name  string
	Type  competition.Type
	Tier  competition.Tier
	Start time.Time

	// Capacity and EntryPoints override the type defaults when positive.
	Capacity    int
	EntryPoints int
}

// Validate validates the command.
func (c CreateCompetitionCommand) Validate() error {
	if c.Type == competition.TypePrivate {
		return shared.NewDomainError("competition", "Create", shared.ErrInvalidInput, "use the private competition endpoint")
	}
	if c.Start.IsZero() {
		return shared.NewDomainError("competition", "Create", shared.ErrEmptyValue, "start is required")
	}
	return nil
}

// CreateCompetitionResult contains the created competition.
type CreateCompetitionResult struct {
	Competition *competition.Competition `json:"competition"`

	// InviteCode is only set for private competitions and is shown once.
	InviteCode string `json:"invite_code,omitempty"`
}

// CreateCompetitionHandler handles both create commands.
type CreateCompetitionHandler struct {
	competitions competition.Repository
	publisher    shared.EventPublisher
	clock        timeutil.Clock
	logger       *slog.Logger
}

// NewCreateCompetitionHandler creates a new CreateCompetitionHandler.
func NewCreateCompetitionHandler(
	competitions competition.Repository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *CreateCompetitionHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &CreateCompetitionHandler{
		competitions: competitions,
		publisher:    publisher,
		clock:        clock,
		logger:       logger.OrDefault(log).With(logger.Component("create_competition")),
	}
}

// Handle creates a public competition.
func (h *CreateCompetitionHandler) Handle(ctx context.Context, cmd CreateCompetitionCommand) (*CreateCompetitionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	settings := competition.DefaultSettings(cmd.Type)
	if cmd.Capacity > 0 {
		settings.Capacity = cmd.Capacity
	}
	if cmd.EntryPoints > 0 {
		settings.EntryPoints = cmd.EntryPoints
	}

	c, err := competition.New(cmd.Name, cmd.Type, cmd.Tier, cmd.Start, settings, now)
	if err != nil {
		return nil, shared.WrapError("competition", "Create", shared.ErrInvalidInput, err.Error(), err)
	}
	if err := h.competitions.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create_competition: %w", err)
	}

	h.logger.Info("competition created",
		logger.CompetitionID(c.ID), "type", c.Type, "tier", c.Tier,
		"start", c.Start, "end", c.End)

	return &CreateCompetitionResult{Competition: c}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIVATE
// ══════════════════════════════════════════════════════════════════════════════

// CreatePrivateCompetitionCommand creates an invite-only league.
type CreatePrivateCompetitionCommand struct {
	CreatorID shared.UserID
	Name      string
	Start     time.Time
	Duration  time.Duration
	Capacity  int
}

// MaxPrivateDuration bounds user-created leagues.
const MaxPrivateDuration = 30 * 24 * time.Hour

// Validate validates the command.
func (c CreatePrivateCompetitionCommand) Validate() error {
	if !c.CreatorID.IsValid() {
		return shared.NewDomainError("competition", "CreatePrivate", shared.ErrInvalidID, "invalid creator ID")
	}
	if c.Duration < 0 || c.Duration > MaxPrivateDuration {
		return shared.NewDomainError("competition", "CreatePrivate", shared.ErrValueOutOfRange,
			fmt.Sprintf("duration must be between 0 and %s", MaxPrivateDuration))
	}
	if c.Capacity < 0 {
		return shared.NewDomainError("competition", "CreatePrivate", shared.ErrNegativeValue, "capacity cannot be negative")
	}
	return nil
}

// HandlePrivate creates a private competition and enrolls its creator.
func (h *CreateCompetitionHandler) HandlePrivate(ctx context.Context, cmd CreatePrivateCompetitionCommand) (*CreateCompetitionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	c, code, err := competition.NewPrivate(cmd.CreatorID, competition.PrivateConfig{
		Name:     cmd.Name,
		Start:    cmd.Start,
		Duration: cmd.Duration,
		Capacity: cmd.Capacity,
	}, now)
	if err != nil {
		return nil, shared.WrapError("competition", "CreatePrivate", shared.ErrInvalidInput, err.Error(), err)
	}
	if err := h.competitions.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create_private_competition: %w", err)
	}

	// The creator is enrolled without the gate, even before the start.
	if _, err := h.competitions.Join(ctx, c.ID, cmd.CreatorID,
		func(*competition.Competition, int, bool) error { return nil }, now); err != nil {
		return nil, fmt.Errorf("create_private_competition: enroll creator: %w", err)
	}
	if err := h.publisher.Publish(shared.NewParticipantJoinedEvent(c.ID, string(cmd.CreatorID))); err != nil {
		h.logger.Warn("failed to publish participant joined", logger.Err(err))
	}

	h.logger.Info("private competition created",
		logger.CompetitionID(c.ID), logger.UserID(string(cmd.CreatorID)))

	return &CreateCompetitionResult{Competition: c, InviteCode: code}, nil
}
