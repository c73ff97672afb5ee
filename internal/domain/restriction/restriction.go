// Package restriction holds time-boxed blocks on counting a user's sessions.
// Expiry is purely a time comparison done by IsActive; nothing else
// in the codebase decides whether a restriction applies.
package restriction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
)

// Domain errors for restriction package.
var (
	ErrInvalidDuration = errors.New("restriction: duration must be positive")
	ErrEmptyReason     = errors.New("restriction: reason is required")
	ErrAlreadyCleared  = errors.New("restriction: already cleared")
)

// Kind tells who imposed a restriction.
type Kind string

const (
	// KindStudyLimit is imposed automatically after repeated high-risk sessions.
	KindStudyLimit Kind = "study_limit"
	// KindOperator is imposed by an operator through the admin surface.
	KindOperator Kind = "operator"
)

// SystemActor marks restrictions created by the validator pipeline.
const SystemActor = "system"

// Restriction is a time-boxed block on accepting a user's sessions.
type Restriction struct {
	ID        string        `json:"id"`
	UserID    shared.UserID `json:"user_id"`
	Kind      Kind          `json:"kind"`
	Reason    string        `json:"reason"`
	CreatedBy string        `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	ClearedAt *time.Time    `json:"cleared_at,omitempty"`
	ClearedBy string        `json:"cleared_by,omitempty"`
}

// New creates a restriction that expires after d.
func New(userID shared.UserID, kind Kind, reason, createdBy string, now time.Time, d time.Duration) (*Restriction, error) {
	if !userID.IsValid() {
		return nil, shared.NewDomainError("restriction", "New", shared.ErrInvalidID, "invalid user ID")
	}
	if d <= 0 {
		return nil, ErrInvalidDuration
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrEmptyReason
	}
	return &Restriction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: now,
		ExpiresAt: now.Add(d),
	}, nil
}

// IsActive is the single predicate for restriction state:
// the restriction exists, was not cleared, and now is before its expiry.
func IsActive(r *Restriction, now time.Time) bool {
	return r != nil && r.ClearedAt == nil && now.Before(r.ExpiresAt)
}

// Clear lifts the restriction early. The row is kept for audit.
func (r *Restriction) Clear(by string, now time.Time) error {
	if r.ClearedAt != nil {
		return ErrAlreadyCleared
	}
	r.ClearedAt = &now
	r.ClearedBy = by
	return nil
}

// ActiveError is returned when a restricted user submits a session.
// It matches shared.ErrRestrictionActive and carries the expiry.
type ActiveError struct {
	UserID    shared.UserID
	Reason    string
	ExpiresAt time.Time
}

// Error implements the error interface.
func (e *ActiveError) Error() string {
	return fmt.Sprintf("user %s is restricted until %s: %s", e.UserID, e.ExpiresAt.Format(time.RFC3339), e.Reason)
}

// Is matches shared.ErrRestrictionActive.
func (e *ActiveError) Is(target error) bool {
	return target == shared.ErrRestrictionActive || errors.Is(shared.ErrRestrictionActive, target)
}

// Latest returns the active restriction that expires last, or nil.
func Latest(rs []*Restriction, now time.Time) *Restriction {
	var latest *Restriction
	for _, r := range rs {
		if !IsActive(r, now) {
			continue
		}
		if latest == nil || r.ExpiresAt.After(latest.ExpiresAt) {
			latest = r
		}
	}
	return latest
}

// LastCleared returns when a restriction was last cleared, zero if never.
// Assessments decided before it no longer count towards a new restriction.
func LastCleared(rs []*Restriction) time.Time {
	var last time.Time
	for _, r := range rs {
		if r.ClearedAt != nil && r.ClearedAt.After(last) {
			last = *r.ClearedAt
		}
	}
	return last
}

// ═══════════════════════════════════════════════════════════════════════════
// THRESHOLD EVALUATION
// ═══════════════════════════════════════════════════════════════════════════

// Decision is the result of evaluating a user's recent assessments.
type Decision struct {
	Restrict  bool
	Reason    string
	HighCount int
	Patterns  []trust.PatternKind
}

// Evaluate decides whether a user must be restricted: Threshold or more
// high or critical assessments inside the rolling window, and no restriction
// already active.
func Evaluate(rule trust.RestrictionRule, assessments []*trust.Assessment, active *Restriction, now time.Time) Decision {
	from := now.Add(-rule.Window)
	seen := make(map[trust.PatternKind]struct{})
	var d Decision
	for _, a := range assessments {
		if a.DecidedAt.Before(from) || a.DecidedAt.After(now) || !a.Risk.AtLeast(trust.RiskHigh) {
			continue
		}
		d.HighCount++
		for _, p := range a.Patterns {
			seen[p] = struct{}{}
		}
	}
	for p := range seen {
		d.Patterns = append(d.Patterns, p)
	}
	sort.Slice(d.Patterns, func(i, j int) bool { return d.Patterns[i] < d.Patterns[j] })

	if d.HighCount < rule.Threshold || IsActive(active, now) {
		return d
	}
	names := make([]string, len(d.Patterns))
	for i, p := range d.Patterns {
		names[i] = string(p)
	}
	d.Restrict = true
	d.Reason = fmt.Sprintf("Fraud detected: %d high-risk sessions in %s (%s)",
		d.HighCount, rule.Window, strings.Join(names, ", "))
	return d
}

// Repository defines persistence for restrictions.
type Repository interface {
	// Save creates or updates a restriction.
	Save(ctx context.Context, r *Restriction) error

	// GetByID returns a restriction by ID.
	GetByID(ctx context.Context, id string) (*Restriction, error)

	// ListByUser returns all restrictions of a user, newest first.
	ListByUser(ctx context.Context, userID shared.UserID) ([]*Restriction, error)

	// ListActive returns restrictions active at now.
	ListActive(ctx context.Context, now time.Time, limit int) ([]*Restriction, error)

	// DeleteExpiredBefore removes restrictions that expired or were cleared before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
