package trust

import (
	"context"
	"time"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// RiskLevel is the band a session score falls into.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity returns an ordinal for comparisons.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Severity() >= other.Severity()
}

// Outcome is what happens to an assessed session.
type Outcome string

const (
	// OutcomeCounted folds the session into reports normally.
	OutcomeCounted Outcome = "counted"
	// OutcomeFlagged folds the session but marks it for review.
	OutcomeFlagged Outcome = "flagged"
	// OutcomeRejected keeps the session out of reports.
	OutcomeRejected Outcome = "rejected"
)

// OutcomeFor maps a risk level to its outcome.
func OutcomeFor(r RiskLevel) Outcome {
	switch {
	case r.AtLeast(RiskHigh):
		return OutcomeRejected
	case r == RiskMedium:
		return OutcomeFlagged
	default:
		return OutcomeCounted
	}
}

// Assessment is the trust decision for one session. Assessments form an
// append-only log; rejected sessions are logged too.
type Assessment struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	UserID        shared.UserID          `json:"user_id"`
	Session       activity.Session       `json:"session"`
	Risk          RiskLevel              `json:"risk_level"`
	Score         int                    `json:"score"`
	Patterns      []PatternKind          `json:"triggered_patterns"`
	Details       map[PatternKind]string `json:"details,omitempty"`
	Outcome       Outcome                `json:"outcome"`
	PolicyVersion int                    `json:"policy_version"`
	DecidedAt     time.Time              `json:"decided_at"`
}

// Counts reports whether the session may be folded into reports.
func (a *Assessment) Counts() bool {
	return a.Outcome != OutcomeRejected
}

// Triggered reports whether the given pattern fired.
func (a *Assessment) Triggered(kind PatternKind) bool {
	for _, p := range a.Patterns {
		if p == kind {
			return true
		}
	}
	return false
}

// PatternNames returns triggered patterns as strings.
func (a *Assessment) PatternNames() []string {
	out := make([]string, len(a.Patterns))
	for i, p := range a.Patterns {
		out[i] = string(p)
	}
	return out
}

// Repository is the append-only assessment log.
type Repository interface {
	// Append stores an assessment. Appending the same ID twice is a no-op.
	Append(ctx context.Context, a *Assessment) error

	// ListByUser returns the user's assessments decided at or after since, oldest first.
	ListByUser(ctx context.Context, userID shared.UserID, since time.Time) ([]*Assessment, error)

	// CountAtLeast counts the user's assessments at or above the risk level since the given time.
	CountAtLeast(ctx context.Context, userID shared.UserID, level RiskLevel, since time.Time) (int, error)
}

// PolicyStore persists versioned policies.
type PolicyStore interface {
	// Latest returns the highest policy version, or shared.ErrPolicyMissing.
	Latest(ctx context.Context) (*Policy, error)

	// Save stores a new version. Versions are immutable once saved.
	Save(ctx context.Context, p *Policy) error
}
