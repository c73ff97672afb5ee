package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
)

// AssessmentRepository implements trust.Repository as an append-only log.
type AssessmentRepository struct {
	mu     sync.RWMutex
	ids    map[string]struct{}
	byUser map[shared.UserID][]*trust.Assessment
}

// NewAssessmentRepository creates an empty assessment log.
func NewAssessmentRepository() *AssessmentRepository {
	return &AssessmentRepository{
		ids:    make(map[string]struct{}),
		byUser: make(map[shared.UserID][]*trust.Assessment),
	}
}

func (r *AssessmentRepository) Append(ctx context.Context, a *trust.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[a.ID]; ok {
		return nil
	}
	r.ids[a.ID] = struct{}{}
	cp := *a
	r.byUser[a.UserID] = append(r.byUser[a.UserID], &cp)
	return nil
}

func (r *AssessmentRepository) ListByUser(ctx context.Context, userID shared.UserID, since time.Time) ([]*trust.Assessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*trust.Assessment
	for _, a := range r.byUser[userID] {
		if a.DecidedAt.Before(since) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

func (r *AssessmentRepository) CountAtLeast(ctx context.Context, userID shared.UserID, level trust.RiskLevel, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.byUser[userID] {
		if !a.DecidedAt.Before(since) && a.Risk.AtLeast(level) {
			n++
		}
	}
	return n, nil
}

// PolicyStore implements trust.PolicyStore.
type PolicyStore struct {
	mu       sync.RWMutex
	versions map[int]*trust.Policy
}

// NewPolicyStore creates an empty policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{versions: make(map[int]*trust.Policy)}
}

func (s *PolicyStore) Latest(ctx context.Context) (*trust.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *trust.Policy
	for v, p := range s.versions {
		if latest == nil || v > latest.Version {
			latest = p
		}
	}
	if latest == nil {
		return nil, shared.ErrPolicyMissing
	}
	return latest.Clone(), nil
}

func (s *PolicyStore) Save(ctx context.Context, p *trust.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[p.Version]; ok {
		return shared.WrapError("trust", "SavePolicy", shared.ErrAlreadyExists, "policy version already stored", nil)
	}
	s.versions[p.Version] = p.Clone()
	return nil
}
