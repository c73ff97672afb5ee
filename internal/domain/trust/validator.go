package trust

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/league-core/internal/domain/activity"
)

// assessmentNamespace seeds deterministic assessment IDs.
var assessmentNamespace = uuid.MustParse("b3e0f6d4-8a61-4f0e-93c2-1d5c7e2a9f40")

// Validator scores sessions against a policy. It has no hidden state:
// identical inputs always produce identical assessments.
type Validator struct {
	registry *Registry
	location *time.Location
}

// NewValidator creates a validator. Day boundaries and the night window
// are evaluated in loc; nil means UTC.
func NewValidator(registry *Registry, loc *time.Location) *Validator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{registry: registry, location: loc}
}

// Assess scores one session given the user's recent history.
// History may include the session itself and sessions outside the lookback;
// both are filtered out.
func (v *Validator) Assess(policy *Policy, session *activity.Session, history []*activity.Session, now time.Time) (*Assessment, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	in := &Input{
		Session:  session,
		History:  v.lookback(policy, session, history, now),
		Policy:   policy,
		Location: v.location,
	}

	score := 0
	var patterns []PatternKind
	details := make(map[PatternKind]string)
	for _, kind := range v.registry.Kinds() {
		fired, detail := v.registry.evaluators[kind](in)
		if !fired {
			continue
		}
		patterns = append(patterns, kind)
		details[kind] = detail
		score += policy.Weight(kind)
	}
	if score > 100 {
		score = 100
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i] < patterns[j] })
	if patterns == nil {
		patterns = []PatternKind{}
	}

	risk := policy.RiskFor(score)
	return &Assessment{
		ID:            assessmentID(session.ID, policy.Version),
		SessionID:     session.ID,
		UserID:        session.UserID,
		Session:       *session,
		Risk:          risk,
		Score:         score,
		Patterns:      patterns,
		Details:       details,
		Outcome:       OutcomeFor(risk),
		PolicyVersion: policy.Version,
		DecidedAt:     now,
	}, nil
}

func (v *Validator) lookback(policy *Policy, session *activity.Session, history []*activity.Session, now time.Time) []*activity.Session {
	from := now.Add(-policy.History())
	out := make([]*activity.Session, 0, len(history))
	for _, s := range history {
		if s == nil || s.ID == session.ID || s.Start.Before(from) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func assessmentID(sessionID string, policyVersion int) string {
	return uuid.NewSHA1(assessmentNamespace, []byte(fmt.Sprintf("%s|%d", sessionID, policyVersion))).String()
}
