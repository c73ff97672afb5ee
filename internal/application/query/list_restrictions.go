package query

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESTRICTION & POLICY QUERIES (admin)
// ══════════════════════════════════════════════════════════════════════════════

// ListRestrictionsQuery lists restrictions. With a user ID it returns that
// user's full history, otherwise every active restriction.
type ListRestrictionsQuery struct {
	UserID shared.UserID
	Limit  int
}

// Validate checks the parameters and applies defaults.
func (q *ListRestrictionsQuery) Validate() error {
	if q.UserID != "" && !q.UserID.IsValid() {
		return shared.NewDomainError("restriction", "List", shared.ErrInvalidID, "invalid user ID")
	}
	if q.Limit < 0 {
		return shared.NewDomainError("restriction", "List", shared.ErrNegativeValue, "limit cannot be negative")
	}
	if q.Limit == 0 || q.Limit > shared.MaxPageSize {
		q.Limit = shared.MaxPageSize
	}
	return nil
}

// RestrictionDTO is a restriction with its evaluated state.
type RestrictionDTO struct {
	*restriction.Restriction
	Active bool `json:"active"`
}

// ListRestrictionsResult contains the restrictions, newest first.
type ListRestrictionsResult struct {
	Restrictions []RestrictionDTO `json:"restrictions"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// ListRestrictionsHandler handles ListRestrictionsQuery.
type ListRestrictionsHandler struct {
	restrictions restriction.Repository
	clock        timeutil.Clock
}

// NewListRestrictionsHandler creates a new handler.
func NewListRestrictionsHandler(restrictions restriction.Repository, clock timeutil.Clock) *ListRestrictionsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &ListRestrictionsHandler{restrictions: restrictions, clock: clock}
}

// Handle executes the query.
func (h *ListRestrictionsHandler) Handle(ctx context.Context, q ListRestrictionsQuery) (*ListRestrictionsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	var (
		rs  []*restriction.Restriction
		err error
	)
	if q.UserID != "" {
		rs, err = h.restrictions.ListByUser(ctx, q.UserID)
	} else {
		rs, err = h.restrictions.ListActive(ctx, now, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list_restrictions: %w", err)
	}
	if len(rs) > q.Limit {
		rs = rs[:q.Limit]
	}

	out := make([]RestrictionDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, RestrictionDTO{Restriction: r, Active: restriction.IsActive(r, now)})
	}
	return &ListRestrictionsResult{Restrictions: out, GeneratedAt: now}, nil
}

// GetPolicyHandler returns the active fraud policy.
type GetPolicyHandler struct {
	holder *trust.PolicyHolder
}

// NewGetPolicyHandler creates a new handler.
func NewGetPolicyHandler(holder *trust.PolicyHolder) *GetPolicyHandler {
	return &GetPolicyHandler{holder: holder}
}

// Handle returns a copy of the active policy.
func (h *GetPolicyHandler) Handle(context.Context) (*trust.Policy, error) {
	p := h.holder.Current()
	if p == nil {
		return nil, shared.ErrPolicyMissing
	}
	return p.Clone(), nil
}
