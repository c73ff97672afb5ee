package competition

import (
	"context"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// Repository defines persistence for competitions and their participants.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// Competition operations

	// Create stores a new competition.
	Create(ctx context.Context, c *Competition) error

	// GetByID returns a competition or shared.ErrCompetitionNotFound.
	GetByID(ctx context.Context, id string) (*Competition, error)

	// UpdateStatus moves a competition from one status to another.
	// It fails with shared.ErrInvalidTransition when the stored status is not from.
	UpdateStatus(ctx context.Context, id string, from, to Status) error

	// ListDue returns competitions whose stored status lags the clock:
	// scheduled past start, or open past end, or closed awaiting rewards.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Competition, error)

	// ListOpen returns competitions open at now.
	ListOpen(ctx context.Context, now time.Time) ([]*Competition, error)

	// Participant operations

	// Join inserts a participant atomically with the gate: the check
	// function sees the locked competition, current participant count and
	// whether the user already joined. Nothing is written if it fails.
	Join(ctx context.Context, competitionID string, userID shared.UserID, check func(c *Competition, count int, joined bool) error, now time.Time) (*Participant, error)

	// ListParticipants returns all participants of a competition in rank order.
	ListParticipants(ctx context.Context, competitionID string) ([]*Participant, error)

	// GetParticipant returns one participant or shared.ErrParticipantNotFound.
	GetParticipant(ctx context.Context, competitionID string, userID shared.UserID) (*Participant, error)

	// CountParticipants returns the number of participants.
	CountParticipants(ctx context.Context, competitionID string) (int, error)

	// SaveStandings writes points, metrics and ranks for non-frozen participants.
	// When freeze is true the rows are frozen in the same transaction.
	SaveStandings(ctx context.Context, competitionID string, standings []*Participant, freeze bool) error
}

// RewardRepository issues rewards exactly once.
type RewardRepository interface {
	// IssueIfAbsent inserts the record and credits the user's balance in one
	// transaction. It returns false without side effects if the record exists.
	IssueIfAbsent(ctx context.Context, r *RewardRecord) (bool, error)

	// ListByCompetition returns issued rewards for a competition.
	ListByCompetition(ctx context.Context, competitionID string) ([]*RewardRecord, error)
}

// BalanceReader reads the global points balance.
type BalanceReader interface {
	// Balance returns the user's points, 0 for unknown users.
	Balance(ctx context.Context, userID shared.UserID) (int, error)
}

// StandingsCache mirrors standings for fast leaderboard reads.
// The database stays authoritative; a cache miss falls back to it.
type StandingsCache interface {
	// Replace swaps the cached standings of a competition.
	Replace(ctx context.Context, competitionID string, standings []*Participant) error

	// Top returns the first limit participants in rank order.
	Top(ctx context.Context, competitionID string, limit int) ([]*Participant, error)

	// RankOf returns a user's rank and the field size.
	RankOf(ctx context.Context, competitionID string, userID shared.UserID) (shared.Rank, int, error)
}
