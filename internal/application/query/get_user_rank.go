package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER RANK QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetUserRankQuery asks for one participant's position.
type GetUserRankQuery struct {
	CompetitionID string
	UserID        shared.UserID
}

// Validate checks the parameters.
func (q GetUserRankQuery) Validate() error {
	if strings.TrimSpace(q.CompetitionID) == "" {
		return shared.NewDomainError("competition", "UserRank", shared.ErrInvalidID, "competition ID is required")
	}
	if !q.UserID.IsValid() {
		return shared.NewDomainError("competition", "UserRank", shared.ErrInvalidID, "invalid user ID")
	}
	return nil
}

// GetUserRankResult is the participant's position. Rank 0 means not ranked yet.
type GetUserRankResult struct {
	CompetitionID string  `json:"competition_id"`
	UserID        string  `json:"user_id"`
	Rank          int     `json:"rank"`
	Total         int     `json:"total"`
	Percentile    float64 `json:"percentile"`
}

// GetUserRankHandler handles GetUserRankQuery.
type GetUserRankHandler struct {
	competitions competition.Repository
	cache        competition.StandingsCache
	logger       *slog.Logger
}

// NewGetUserRankHandler creates a new handler. The cache may be nil.
func NewGetUserRankHandler(competitions competition.Repository, cache competition.StandingsCache, log *slog.Logger) *GetUserRankHandler {
	return &GetUserRankHandler{
		competitions: competitions,
		cache:        cache,
		logger:       logger.OrDefault(log).With(logger.Component("get_user_rank")),
	}
}

// Handle executes the query. A non-participant gets shared.ErrParticipantNotFound.
func (h *GetUserRankHandler) Handle(ctx context.Context, q GetUserRankQuery) (*GetUserRankResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rank, total, err := h.lookup(ctx, q)
	if err != nil {
		return nil, err
	}
	return &GetUserRankResult{
		CompetitionID: q.CompetitionID,
		UserID:        string(q.UserID),
		Rank:          rank.Int(),
		Total:         total,
		Percentile:    rank.Percentile(total),
	}, nil
}

func (h *GetUserRankHandler) lookup(ctx context.Context, q GetUserRankQuery) (shared.Rank, int, error) {
	if h.cache != nil {
		rank, total, err := h.cache.RankOf(ctx, q.CompetitionID, q.UserID)
		switch {
		case err == nil:
			return rank, total, nil
		case errors.Is(err, shared.ErrParticipantNotFound):
			// A user who joined after the last recompute is not cached yet.
		case !errors.Is(err, shared.ErrNotFound):
			h.logger.Warn("standings cache unavailable", logger.CompetitionID(q.CompetitionID), logger.Err(err))
		}
	}

	p, err := h.competitions.GetParticipant(ctx, q.CompetitionID, q.UserID)
	if err != nil {
		return shared.Unranked, 0, err
	}
	total, err := h.competitions.CountParticipants(ctx, q.CompetitionID)
	if err != nil {
		return shared.Unranked, 0, fmt.Errorf("get_user_rank: count participants: %w", err)
	}
	return p.Rank, total, nil
}
