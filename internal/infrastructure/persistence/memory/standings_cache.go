package memory

import (
	"context"
	"sync"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// StandingsCache implements competition.StandingsCache in process.
type StandingsCache struct {
	mu    sync.RWMutex
	items map[string][]*competition.Participant
}

// NewStandingsCache creates an empty cache.
func NewStandingsCache() *StandingsCache {
	return &StandingsCache{items: make(map[string][]*competition.Participant)}
}

func (c *StandingsCache) Replace(ctx context.Context, competitionID string, standings []*competition.Participant) error {
	cp := make([]*competition.Participant, len(standings))
	for i, p := range standings {
		pc := *p
		cp[i] = &pc
	}
	c.mu.Lock()
	c.items[competitionID] = cp
	c.mu.Unlock()
	return nil
}

func (c *StandingsCache) Top(ctx context.Context, competitionID string, limit int) ([]*competition.Participant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items, ok := c.items[competitionID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]*competition.Participant, len(items))
	for i, p := range items {
		pc := *p
		out[i] = &pc
	}
	return out, nil
}

func (c *StandingsCache) RankOf(ctx context.Context, competitionID string, userID shared.UserID) (shared.Rank, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items, ok := c.items[competitionID]
	if !ok {
		return shared.Unranked, 0, shared.ErrNotFound
	}
	for _, p := range items {
		if p.UserID == userID {
			return p.Rank, len(items), nil
		}
	}
	return shared.Unranked, len(items), shared.ErrParticipantNotFound
}
