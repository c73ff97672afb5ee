package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSESSMENT LOG
// ══════════════════════════════════════════════════════════════════════════════

// AssessmentRepository implements trust.Repository. The table is append-only;
// nothing in this package issues UPDATE or DELETE against it.
type AssessmentRepository struct {
	conn *Connection
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(conn *Connection) *AssessmentRepository {
	return &AssessmentRepository{conn: conn}
}

// Append stores an assessment. Re-appending an ID is a no-op.
func (r *AssessmentRepository) Append(ctx context.Context, a *trust.Assessment) error {
	query := `
		INSERT INTO trust_assessments (
			id, session_id, user_id, session_snapshot, risk_level, risk_severity,
			score, triggered_patterns, details, outcome, policy_version, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	snapshot, err := json.Marshal(a.Session)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	var details []byte
	if len(a.Details) > 0 {
		if details, err = json.Marshal(a.Details); err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	_, err = r.conn.Exec(ctx, query,
		a.ID,
		a.SessionID,
		string(a.UserID),
		snapshot,
		string(a.Risk),
		a.Risk.Severity(),
		a.Score,
		a.PatternNames(),
		details,
		string(a.Outcome),
		a.PolicyVersion,
		a.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append assessment: %w", err)
	}
	return nil
}

// ListByUser returns assessments decided at or after since, oldest first.
func (r *AssessmentRepository) ListByUser(ctx context.Context, userID shared.UserID, since time.Time) ([]*trust.Assessment, error) {
	query := `
		SELECT id, session_id, user_id, session_snapshot, risk_level, score,
			   triggered_patterns, details, outcome, policy_version, decided_at
		FROM trust_assessments
		WHERE user_id = $1 AND decided_at >= $2
		ORDER BY decided_at, id
	`

	rows, err := r.conn.Query(ctx, query, string(userID), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	var out []*trust.Assessment
	for rows.Next() {
		var (
			a        trust.Assessment
			uid      string
			snapshot []byte
			risk     string
			patterns []string
			details  []byte
			outcome  string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &uid, &snapshot, &risk, &a.Score,
			&patterns, &details, &outcome, &a.PolicyVersion, &a.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}

		a.UserID = shared.UserID(uid)
		a.Risk = trust.RiskLevel(risk)
		a.Outcome = trust.Outcome(outcome)
		for _, p := range patterns {
			a.Patterns = append(a.Patterns, trust.PatternKind(p))
		}
		var s activity.Session
		if err := json.Unmarshal(snapshot, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
		}
		a.Session = s
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CountAtLeast counts assessments at or above level since the given time.
func (r *AssessmentRepository) CountAtLeast(ctx context.Context, userID shared.UserID, level trust.RiskLevel, since time.Time) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `
		SELECT count(*) FROM trust_assessments
		WHERE user_id = $1 AND risk_severity >= $2 AND decided_at >= $3
	`, string(userID), level.Severity(), since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count assessments: %w", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY STORE
// ══════════════════════════════════════════════════════════════════════════════

// PolicyStore implements trust.PolicyStore. Each version is one immutable row.
type PolicyStore struct {
	conn *Connection
}

// NewPolicyStore creates a new PolicyStore.
func NewPolicyStore(conn *Connection) *PolicyStore {
	return &PolicyStore{conn: conn}
}

// Latest returns the highest stored version.
func (s *PolicyStore) Latest(ctx context.Context) (*trust.Policy, error) {
	var body []byte
	err := s.conn.QueryRow(ctx, `SELECT body FROM fraud_policies ORDER BY version DESC LIMIT 1`).Scan(&body)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPolicyMissing
		}
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	var p trust.Policy
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return &p, nil
}

// Save stores a new version.
func (s *PolicyStore) Save(ctx context.Context, p *trust.Policy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO fraud_policies (version, body, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
	`, p.Version, body, p.UpdatedBy, p.UpdatedAt.UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("trust", "SavePolicy", shared.ErrAlreadyExists, "policy version already stored", err)
		}
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}
