// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns a page of a competition's standings. Reads the standings cache
// first and falls back to the database on a miss.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains the leaderboard request parameters.
type GetLeaderboardQuery struct {
	CompetitionID string

	// Limit is the page size (default 20, max 100).
	Limit int

	// Offset skips entries for pagination.
	Offset int
}

// Validate checks the parameters and applies defaults.
func (q *GetLeaderboardQuery) Validate() error {
	if strings.TrimSpace(q.CompetitionID) == "" {
		return shared.NewDomainError("competition", "Leaderboard", shared.ErrInvalidID, "competition ID is required")
	}
	if q.Limit < 0 {
		return shared.NewDomainError("competition", "Leaderboard", shared.ErrNegativeValue, "limit cannot be negative")
	}
	if q.Limit > shared.MaxPageSize {
		q.Limit = shared.MaxPageSize
	}
	if q.Limit == 0 {
		q.Limit = shared.DefaultPageSize
	}
	if q.Offset < 0 {
		return shared.NewDomainError("competition", "Leaderboard", shared.ErrNegativeValue, "offset cannot be negative")
	}
	return nil
}

// LeaderboardEntryDTO is one leaderboard row.
type LeaderboardEntryDTO struct {
	Rank     int                 `json:"rank"`
	UserID   string              `json:"user_id"`
	Points   int                 `json:"points"`
	Metrics  competition.Metrics `json:"metrics"`
	JoinedAt time.Time           `json:"joined_at"`
	Frozen   bool                `json:"frozen"`
}

// PointsSummary describes the points distribution of the whole field.
type PointsSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    int     `json:"max"`
}

// GetLeaderboardResult contains the leaderboard page.
type GetLeaderboardResult struct {
	CompetitionID string                `json:"competition_id"`
	Status        competition.Status    `json:"status"`
	Entries       []LeaderboardEntryDTO `json:"entries"`
	TotalCount    int                   `json:"total_count"`
	Summary       PointsSummary         `json:"summary"`
	FromCache     bool                  `json:"from_cache"`
	HasMore       bool                  `json:"has_more"`
	GeneratedAt   time.Time             `json:"generated_at"`
}

// GetLeaderboardHandler handles GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	competitions competition.Repository
	cache        competition.StandingsCache
	clock        timeutil.Clock
	logger       *slog.Logger
}

// NewGetLeaderboardHandler creates a new handler. The cache may be nil.
func NewGetLeaderboardHandler(
	competitions competition.Repository,
	cache competition.StandingsCache,
	clock timeutil.Clock,
	log *slog.Logger,
) *GetLeaderboardHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetLeaderboardHandler{
		competitions: competitions,
		cache:        cache,
		clock:        clock,
		logger:       logger.OrDefault(log).With(logger.Component("get_leaderboard")),
	}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	c, err := h.competitions.GetByID(ctx, q.CompetitionID)
	if err != nil {
		return nil, err
	}

	standings, fromCache, err := h.standings(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	result := &GetLeaderboardResult{
		CompetitionID: c.ID,
		Status:        c.EffectiveStatus(now),
		TotalCount:    len(standings),
		Summary:       summarize(standings),
		FromCache:     fromCache,
		GeneratedAt:   now,
		Entries:       make([]LeaderboardEntryDTO, 0, q.Limit),
	}

	if q.Offset < len(standings) {
		end := q.Offset + q.Limit
		if end > len(standings) {
			end = len(standings)
		}
		for _, p := range standings[q.Offset:end] {
			result.Entries = append(result.Entries, toEntryDTO(p))
		}
		result.HasMore = end < len(standings)
	}
	return result, nil
}

// standings returns the full field in rank order.
func (h *GetLeaderboardHandler) standings(ctx context.Context, competitionID string) ([]*competition.Participant, bool, error) {
	if h.cache != nil {
		cached, err := h.cache.Top(ctx, competitionID, 0)
		if err == nil {
			return cached, true, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Warn("standings cache unavailable", logger.CompetitionID(competitionID), logger.Err(err))
		}
	}

	ps, err := h.competitions.ListParticipants(ctx, competitionID)
	if err != nil {
		return nil, false, fmt.Errorf("get_leaderboard: list participants: %w", err)
	}
	return ps, false, nil
}

func toEntryDTO(p *competition.Participant) LeaderboardEntryDTO {
	return LeaderboardEntryDTO{
		Rank:     p.Rank.Int(),
		UserID:   string(p.UserID),
		Points:   p.Points,
		Metrics:  p.Metrics,
		JoinedAt: p.JoinedAt,
		Frozen:   p.Frozen,
	}
}

func summarize(ps []*competition.Participant) PointsSummary {
	if len(ps) == 0 {
		return PointsSummary{}
	}
	data := make(stats.Float64Data, 0, len(ps))
	var s PointsSummary
	for _, p := range ps {
		data = append(data, float64(p.Points))
		if p.Points > s.Max {
			s.Max = p.Points
		}
	}
	mean, _ := data.Mean()
	median, _ := data.Median()
	s.Mean, _ = stats.Round(mean, 2)
	s.Median, _ = stats.Round(median, 2)
	return s
}
