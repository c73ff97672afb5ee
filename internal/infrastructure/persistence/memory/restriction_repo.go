package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// RestrictionRepository implements restriction.Repository.
type RestrictionRepository struct {
	mu   sync.RWMutex
	byID map[string]*restriction.Restriction
}

// NewRestrictionRepository creates an empty restriction store.
func NewRestrictionRepository() *RestrictionRepository {
	return &RestrictionRepository{byID: make(map[string]*restriction.Restriction)}
}

func copyRestriction(r *restriction.Restriction) *restriction.Restriction {
	cp := *r
	if r.ClearedAt != nil {
		t := *r.ClearedAt
		cp.ClearedAt = &t
	}
	return &cp
}

func (r *RestrictionRepository) Save(ctx context.Context, res *restriction.Restriction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[res.ID] = copyRestriction(res)
	return nil
}

func (r *RestrictionRepository) GetByID(ctx context.Context, id string) (*restriction.Restriction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrRestrictionNotFound
	}
	return copyRestriction(res), nil
}

func (r *RestrictionRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]*restriction.Restriction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*restriction.Restriction
	for _, res := range r.byID {
		if res.UserID == userID {
			out = append(out, copyRestriction(res))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RestrictionRepository) ListActive(ctx context.Context, now time.Time, limit int) ([]*restriction.Restriction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*restriction.Restriction
	for _, res := range r.byID {
		if restriction.IsActive(res, now) {
			out = append(out, copyRestriction(res))
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RestrictionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, res := range r.byID {
		expired := res.ExpiresAt.Before(cutoff)
		cleared := res.ClearedAt != nil && res.ClearedAt.Before(cutoff)
		if expired || cleared {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func sortNewestFirst(rs []*restriction.Restriction) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
