package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE STANDINGS COMMAND
// Reads a snapshot of the window's daily reports, recomputes points and
// writes ranks. Mid-window ranks are provisional; the final recompute
// freezes them.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeStandingsCommand recomputes one competition.
type RecomputeStandingsCommand struct {
	CompetitionID string

	// Final freezes the resulting ranks.
	Final bool
}

// Validate validates the command.
func (c RecomputeStandingsCommand) Validate() error {
	if strings.TrimSpace(c.CompetitionID) == "" {
		return shared.NewDomainError("competition", "Recompute", shared.ErrInvalidID, "competition ID is required")
	}
	return nil
}

// RecomputeStandingsResult contains the new standings.
type RecomputeStandingsResult struct {
	CompetitionID string                     `json:"competition_id"`
	Standings     []*competition.Participant `json:"standings"`
	Final         bool                       `json:"final"`

	// AlreadyFrozen is set when the ranks were final before this call.
	AlreadyFrozen bool      `json:"already_frozen"`
	ComputedAt    time.Time `json:"computed_at"`
}

// RecomputeStandingsHandler handles RecomputeStandingsCommand.
type RecomputeStandingsHandler struct {
	competitions competition.Repository
	reports      report.Repository
	cache        competition.StandingsCache
	publisher    shared.EventPublisher
	scoring      competition.ScoringPolicy
	location     *time.Location
	clock        timeutil.Clock
	logger       *slog.Logger
}

// RecomputeStandingsDeps are the collaborators of the handler.
// Cache is optional.
type RecomputeStandingsDeps struct {
	Competitions competition.Repository
	Reports      report.Repository
	Cache        competition.StandingsCache
	Publisher    shared.EventPublisher
	Scoring      competition.ScoringPolicy
	Location     *time.Location
	Clock        timeutil.Clock
	Logger       *slog.Logger
}

// NewRecomputeStandingsHandler creates a new RecomputeStandingsHandler.
func NewRecomputeStandingsHandler(deps RecomputeStandingsDeps) *RecomputeStandingsHandler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Scoring.Validate() != nil {
		deps.Scoring = competition.DefaultScoringPolicy()
	}
	return &RecomputeStandingsHandler{
		competitions: deps.Competitions,
		reports:      deps.Reports,
		cache:        deps.Cache,
		publisher:    deps.Publisher,
		scoring:      deps.Scoring,
		location:     deps.Location,
		clock:        deps.Clock,
		logger:       logger.OrDefault(deps.Logger).With(logger.Component("recompute_standings")),
	}
}

// Handle executes the recompute.
func (h *RecomputeStandingsHandler) Handle(ctx context.Context, cmd RecomputeStandingsCommand) (*RecomputeStandingsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	c, err := h.competitions.GetByID(ctx, cmd.CompetitionID)
	if err != nil {
		return nil, err
	}
	participants, err := h.competitions.ListParticipants(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("recompute: list participants: %w", err)
	}

	result := &RecomputeStandingsResult{
		CompetitionID: c.ID,
		Final:         cmd.Final,
		ComputedAt:    now,
	}
	if len(participants) > 0 && allFrozen(participants) {
		result.Standings = participants
		result.AlreadyFrozen = true
		result.Final = true
		return result, nil
	}

	metrics, err := h.metrics(ctx, c, participants)
	if err != nil {
		return nil, err
	}

	standings := competition.Standings(h.scoring, participants, metrics, now)
	if err := h.competitions.SaveStandings(ctx, c.ID, standings, cmd.Final); err != nil {
		return nil, fmt.Errorf("recompute: save standings: %w", err)
	}
	if cmd.Final {
		for _, p := range standings {
			p.Frozen = true
		}
	}
	result.Standings = standings

	// The cache is a mirror; a failed write only slows reads down.
	if h.cache != nil {
		if err := h.cache.Replace(ctx, c.ID, standings); err != nil {
			h.logger.Warn("failed to refresh standings cache", logger.CompetitionID(c.ID), logger.Err(err))
		}
	}

	if err := h.publisher.Publish(shared.NewStandingsRecomputedEvent(c.ID, len(standings), cmd.Final)); err != nil {
		h.logger.Warn("failed to publish standings recomputed", logger.Err(err))
	}

	h.logger.Debug("standings recomputed",
		logger.CompetitionID(c.ID), "participants", len(standings), "final", cmd.Final)

	return result, nil
}

// metrics folds the daily reports inside the competition window per participant.
func (h *RecomputeStandingsHandler) metrics(ctx context.Context, c *competition.Competition, participants []*competition.Participant) (map[shared.UserID]competition.Metrics, error) {
	out := make(map[shared.UserID]competition.Metrics, len(participants))
	if len(participants) == 0 {
		return out, nil
	}

	from, to := WindowDates(c, h.location)
	userIDs := make([]shared.UserID, 0, len(participants))
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}

	reports, err := h.reports.ListRangeForUsers(ctx, userIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("recompute: list reports: %w", err)
	}
	byUser := make(map[shared.UserID][]*report.DailyReport, len(participants))
	for _, r := range reports {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	for _, id := range userIDs {
		out[id] = competition.MetricsFromReports(byUser[id], from, to)
	}
	return out, nil
}

// RecomputeOpen recomputes every open competition. It returns the number
// recomputed; a failure on one competition does not stop the others.
func (h *RecomputeStandingsHandler) RecomputeOpen(ctx context.Context) (int, error) {
	open, err := h.competitions.ListOpen(ctx, h.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("recompute: list open: %w", err)
	}
	n := 0
	for _, c := range open {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := h.Handle(ctx, RecomputeStandingsCommand{CompetitionID: c.ID}); err != nil {
			h.logger.Error("recompute failed", logger.CompetitionID(c.ID), logger.Err(err))
			continue
		}
		n++
	}
	return n, nil
}

// WindowDates returns the inclusive report dates covered by a competition.
// The end instant is exclusive.
func WindowDates(c *competition.Competition, loc *time.Location) (report.Date, report.Date) {
	from := report.DateOf(c.Start, loc)
	to := report.DateOf(c.End.Add(-time.Nanosecond), loc)
	if to < from {
		to = from
	}
	return from, to
}

func allFrozen(ps []*competition.Participant) bool {
	for _, p := range ps {
		if !p.Frozen {
			return false
		}
	}
	return true
}
