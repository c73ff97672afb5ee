package restriction

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func assessment(risk trust.RiskLevel, at time.Time, patterns ...trust.PatternKind) *trust.Assessment {
	return &trust.Assessment{UserID: "u1", Risk: risk, DecidedAt: at, Patterns: patterns}
}

func TestIsActive(t *testing.T) {
	r, err := New("u1", KindStudyLimit, "reason", SystemActor, now, 24*time.Hour)
	require.NoError(t, err)

	assert.True(t, IsActive(r, now))
	assert.True(t, IsActive(r, now.Add(24*time.Hour-time.Nanosecond)))
	assert.False(t, IsActive(r, now.Add(24*time.Hour)), "expiry instant is exclusive")
	assert.False(t, IsActive(nil, now))

	require.NoError(t, r.Clear("ops", now.Add(time.Hour)))
	assert.False(t, IsActive(r, now.Add(2*time.Hour)))
	assert.ErrorIs(t, r.Clear("ops", now), ErrAlreadyCleared)
}

func TestEvaluate_ThresholdReached(t *testing.T) {
	rule := trust.DefaultPolicy().Restriction
	list := []*trust.Assessment{
		assessment(trust.RiskHigh, now.Add(-6*24*time.Hour), trust.PatternAnswerRate),
		assessment(trust.RiskCritical, now.Add(-2*24*time.Hour), trust.PatternPerfectAccuracy),
		assessment(trust.RiskMedium, now.Add(-time.Hour), trust.PatternRapidSessions),
		assessment(trust.RiskHigh, now, trust.PatternAnswerRate),
	}

	d := Evaluate(rule, list, nil, now)

	assert.True(t, d.Restrict)
	assert.Equal(t, 3, d.HighCount)
	assert.Equal(t, []trust.PatternKind{trust.PatternAnswerRate, trust.PatternPerfectAccuracy}, d.Patterns)
	assert.Contains(t, d.Reason, "Fraud detected")
}

func TestEvaluate_OutsideWindowDoesNotCount(t *testing.T) {
	rule := trust.DefaultPolicy().Restriction
	list := []*trust.Assessment{
		assessment(trust.RiskHigh, now.Add(-8*24*time.Hour)),
		assessment(trust.RiskHigh, now.Add(-24*time.Hour)),
		assessment(trust.RiskHigh, now),
	}

	d := Evaluate(rule, list, nil, now)

	assert.False(t, d.Restrict)
	assert.Equal(t, 2, d.HighCount)
}

func TestEvaluate_NoneNeverRestricts(t *testing.T) {
	rule := trust.DefaultPolicy().Restriction
	list := []*trust.Assessment{
		assessment(trust.RiskLow, now),
		assessment(trust.RiskMedium, now),
	}

	assert.False(t, Evaluate(rule, list, nil, now).Restrict)
	assert.False(t, Evaluate(rule, nil, nil, now).Restrict)
}

func TestEvaluate_AlreadyActiveDoesNotStack(t *testing.T) {
	rule := trust.DefaultPolicy().Restriction
	active, err := New("u1", KindStudyLimit, "earlier", SystemActor, now.Add(-time.Hour), 24*time.Hour)
	require.NoError(t, err)
	list := []*trust.Assessment{
		assessment(trust.RiskHigh, now),
		assessment(trust.RiskHigh, now),
		assessment(trust.RiskHigh, now),
	}

	assert.False(t, Evaluate(rule, list, active, now).Restrict)
}

func TestActiveError_MatchesTaxonomy(t *testing.T) {
	var err error = &ActiveError{UserID: "u1", Reason: "x", ExpiresAt: now}

	assert.True(t, errors.Is(err, shared.ErrRestrictionActive))
	assert.True(t, errors.Is(err, shared.ErrForbidden))
	assert.Contains(t, err.Error(), "u1")
}

func TestLatest(t *testing.T) {
	a, _ := New("u1", KindStudyLimit, "a", SystemActor, now, time.Hour)
	b, _ := New("u1", KindOperator, "b", "ops", now, 3*time.Hour)
	c, _ := New("u1", KindOperator, "c", "ops", now.Add(-10*time.Hour), time.Hour)

	assert.Equal(t, b, Latest([]*Restriction{a, b, c}, now))
	assert.Nil(t, Latest([]*Restriction{c}, now))
}

func TestNew_Validation(t *testing.T) {
	_, err := New("u1", KindOperator, "", "ops", now, time.Hour)
	assert.ErrorIs(t, err, ErrEmptyReason)

	_, err = New("u1", KindOperator, "r", "ops", now, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = New("", KindOperator, "r", "ops", now, time.Hour)
	assert.True(t, shared.IsValidation(err))
}
