package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// CompetitionRepository implements competition.Repository,
// competition.RewardRepository and competition.BalanceReader over one lock,
// so reward issue and balance credit are atomic like the SQL transaction.
type CompetitionRepository struct {
	mu           sync.RWMutex
	competitions map[string]*competition.Competition
	participants map[string]map[shared.UserID]*competition.Participant
	rewards      map[rewardKey]*competition.RewardRecord
	balances     map[shared.UserID]int
}

type rewardKey struct {
	competitionID string
	userID        shared.UserID
	tier          string
}

// NewCompetitionRepository creates an empty competition store.
func NewCompetitionRepository() *CompetitionRepository {
	return &CompetitionRepository{
		competitions: make(map[string]*competition.Competition),
		participants: make(map[string]map[shared.UserID]*competition.Participant),
		rewards:      make(map[rewardKey]*competition.RewardRecord),
		balances:     make(map[shared.UserID]int),
	}
}

func copyCompetition(c *competition.Competition) *competition.Competition {
	cp := *c
	cp.Rewards = append([]competition.RewardTier(nil), c.Rewards...)
	return &cp
}

func (r *CompetitionRepository) Create(ctx context.Context, c *competition.Competition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.competitions[c.ID]; ok {
		return shared.WrapError("competition", "Create", shared.ErrAlreadyExists, "competition already exists", nil)
	}
	r.competitions[c.ID] = copyCompetition(c)
	r.participants[c.ID] = make(map[shared.UserID]*competition.Participant)
	return nil
}

func (r *CompetitionRepository) GetByID(ctx context.Context, id string) (*competition.Competition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.competitions[id]
	if !ok {
		return nil, shared.ErrCompetitionNotFound
	}
	return copyCompetition(c), nil
}

func (r *CompetitionRepository) UpdateStatus(ctx context.Context, id string, from, to competition.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.competitions[id]
	if !ok {
		return shared.ErrCompetitionNotFound
	}
	if c.Status != from || !competition.CanTransition(from, to) {
		return shared.WrapError("competition", "UpdateStatus", shared.ErrInvalidTransition,
			string(c.Status)+" -> "+string(to), nil)
	}
	c.Status = to
	return nil
}

func (r *CompetitionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*competition.Competition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*competition.Competition
	for _, c := range r.competitions {
		due := false
		switch c.Status {
		case competition.StatusScheduled:
			due = !now.Before(c.Start)
		case competition.StatusOpen:
			due = !now.Before(c.End)
		case competition.StatusClosed:
			due = true
		}
		if due {
			out = append(out, copyCompetition(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].End.Equal(out[j].End) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CompetitionRepository) ListOpen(ctx context.Context, now time.Time) ([]*competition.Competition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*competition.Competition
	for _, c := range r.competitions {
		if c.IsOpen(now) {
			out = append(out, copyCompetition(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CompetitionRepository) Join(ctx context.Context, competitionID string, userID shared.UserID, check func(c *competition.Competition, count int, joined bool) error, now time.Time) (*competition.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.competitions[competitionID]
	if !ok {
		return nil, shared.ErrCompetitionNotFound
	}
	ps := r.participants[competitionID]
	_, joined := ps[userID]
	if err := check(copyCompetition(c), len(ps), joined); err != nil {
		return nil, err
	}

	p := competition.NewParticipant(competitionID, userID, now)
	ps[userID] = p
	cp := *p
	return &cp, nil
}

func (r *CompetitionRepository) ListParticipants(ctx context.Context, competitionID string) ([]*competition.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.competitions[competitionID]; !ok {
		return nil, shared.ErrCompetitionNotFound
	}
	out := make([]*competition.Participant, 0, len(r.participants[competitionID]))
	for _, p := range r.participants[competitionID] {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Rank.IsValid() != b.Rank.IsValid() {
			return a.Rank.IsValid()
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})
	return out, nil
}

func (r *CompetitionRepository) GetParticipant(ctx context.Context, competitionID string, userID shared.UserID) (*competition.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[competitionID][userID]
	if !ok {
		return nil, shared.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *CompetitionRepository) CountParticipants(ctx context.Context, competitionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants[competitionID]), nil
}

func (r *CompetitionRepository) SaveStandings(ctx context.Context, competitionID string, standings []*competition.Participant, freeze bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.participants[competitionID]
	if !ok {
		return shared.ErrCompetitionNotFound
	}
	for _, s := range standings {
		p, ok := ps[s.UserID]
		if !ok || p.Frozen {
			continue
		}
		p.Points = s.Points
		p.Rank = s.Rank
		p.Metrics = s.Metrics
		p.UpdatedAt = s.UpdatedAt
		if freeze {
			p.Frozen = true
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// REWARDS & BALANCES
// ═══════════════════════════════════════════════════════════════════════════

func (r *CompetitionRepository) IssueIfAbsent(ctx context.Context, rec *competition.RewardRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := rewardKey{competitionID: rec.CompetitionID, userID: rec.UserID, tier: rec.Tier}
	if _, ok := r.rewards[k]; ok {
		return false, nil
	}
	cp := *rec
	r.rewards[k] = &cp
	r.balances[rec.UserID] += rec.Points
	return true, nil
}

func (r *CompetitionRepository) ListByCompetition(ctx context.Context, competitionID string) ([]*competition.RewardRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*competition.RewardRecord
	for k, rec := range r.rewards {
		if k.competitionID == competitionID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (r *CompetitionRepository) Balance(ctx context.Context, userID shared.UserID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[userID], nil
}

// SetBalance overwrites a user's balance. Used to seed development data and tests.
func (r *CompetitionRepository) SetBalance(userID shared.UserID, points int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] = points
}
