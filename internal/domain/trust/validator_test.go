package trust

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/shared"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func session(id string, start time.Time, minutes int, device string) *activity.Session {
	return &activity.Session{
		ID:     id,
		UserID: "u1",
		Type:   activity.TypeStudy,
		Start:  start,
		End:    start.Add(time.Duration(minutes) * time.Minute),
		Device: device,
		Source: activity.SourceManual,
	}
}

func newValidator() *Validator {
	return NewValidator(DefaultRegistry(), time.UTC)
}

func TestAssess_ImplausibleTestSessionIsRejected(t *testing.T) {
	start := day.Add(10 * time.Hour)
	s := session("s1", start, 4, "d1")
	s.Type = activity.TypeTest
	s.Questions, s.Correct = 600, 600

	a, err := newValidator().Assess(DefaultPolicy(), s, nil, s.End)
	require.NoError(t, err)

	assert.True(t, a.Triggered(PatternAnswerRate))
	assert.True(t, a.Triggered(PatternPerfectAccuracy))
	assert.True(t, a.Risk.AtLeast(RiskHigh))
	assert.Equal(t, OutcomeRejected, a.Outcome)
	assert.False(t, a.Counts())
}

func TestAssess_FiveSessionsInAnHourIsMediumAndFlagged(t *testing.T) {
	start := day.Add(9 * time.Hour)
	var history []*activity.Session
	for i := 0; i < 4; i++ {
		s := session(fmt.Sprintf("h%d", i), start.Add(time.Duration(i*12)*time.Minute), 20, "d1")
		s.Subject = "math"
		history = append(history, s)
	}
	current := session("s5", start.Add(48*time.Minute), 20, "d1")
	current.Subject = "math"

	a, err := newValidator().Assess(DefaultPolicy(), current, history, current.End)
	require.NoError(t, err)

	assert.True(t, a.Triggered(PatternRapidSessions))
	assert.False(t, a.Triggered(PatternDeviceSwitching))
	assert.Equal(t, RiskMedium, a.Risk)
	assert.Equal(t, OutcomeFlagged, a.Outcome)
	assert.True(t, a.Counts())
}

func TestAssess_CleanSessionIsLow(t *testing.T) {
	s := session("s1", day.Add(14*time.Hour), 45, "d1")

	a, err := newValidator().Assess(DefaultPolicy(), s, nil, s.End)
	require.NoError(t, err)

	assert.Equal(t, RiskLow, a.Risk)
	assert.Zero(t, a.Score)
	assert.Empty(t, a.Patterns)
	assert.Equal(t, OutcomeCounted, a.Outcome)
}

func TestAssess_IsDeterministic(t *testing.T) {
	s := session("s1", day.Add(2*time.Hour), 200, "d1")
	history := []*activity.Session{
		session("h1", day.Add(1*time.Hour), 30, "d2"),
		session("h2", day.Add(90*time.Minute), 20, "d3"),
	}
	v := newValidator()

	a1, err := v.Assess(DefaultPolicy(), s, history, s.End)
	require.NoError(t, err)
	a2, err := v.Assess(DefaultPolicy(), s, history, s.End)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
}

func TestAssess_ScoreIsCappedAt100(t *testing.T) {
	p := DefaultPolicy()
	for k := range p.Weights {
		p.Weights[k] = 60
	}
	s := session("s1", day.Add(3*time.Hour), 200, "d1")
	s.Questions, s.Correct = 5000, 5000

	a, err := newValidator().Assess(p, s, nil, s.End)
	require.NoError(t, err)

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, RiskCritical, a.Risk)
}

func TestAssess_MissingWeightIsFatal(t *testing.T) {
	p := DefaultPolicy()
	delete(p.Weights, PatternNightPattern)
	s := session("s1", day.Add(14*time.Hour), 30, "d1")

	_, err := newValidator().Assess(p, s, nil, s.End)

	assert.ErrorIs(t, err, shared.ErrPolicyMissing)
}

func TestAssess_NilPolicyIsFatal(t *testing.T) {
	s := session("s1", day.Add(14*time.Hour), 30, "d1")

	_, err := newValidator().Assess(nil, s, nil, s.End)

	assert.ErrorIs(t, err, shared.ErrPolicyMissing)
}

func TestPatterns(t *testing.T) {
	noon := day.Add(12 * time.Hour)

	tests := []struct {
		name    string
		kind    PatternKind
		current *activity.Session
		history []*activity.Session
		want    bool
	}{
		{
			name:    "rapid sessions at limit do not fire",
			kind:    PatternRapidSessions,
			current: session("c", noon.Add(40*time.Minute), 10, "d1"),
			history: []*activity.Session{
				session("a", noon, 10, "d1"),
				session("b", noon.Add(15*time.Minute), 10, "d1"),
				session("x", noon.Add(30*time.Minute), 10, "d1"),
			},
			want: false,
		},
		{
			name:    "session outside rolling hour is ignored",
			kind:    PatternRapidSessions,
			current: session("c", noon.Add(70*time.Minute), 10, "d1"),
			history: []*activity.Session{
				session("a", noon, 5, "d1"),
				session("b", noon.Add(15*time.Minute), 5, "d1"),
				session("x", noon.Add(30*time.Minute), 5, "d1"),
				session("y", noon.Add(45*time.Minute), 5, "d1"),
			},
			want: false,
		},
		{
			name:    "three devices in a day",
			kind:    PatternDeviceSwitching,
			current: session("c", noon, 30, "d3"),
			history: []*activity.Session{
				session("a", day.Add(8*time.Hour), 30, "d1"),
				session("b", day.Add(10*time.Hour), 30, "d2"),
			},
			want: true,
		},
		{
			name:    "devices on another day do not count",
			kind:    PatternDeviceSwitching,
			current: session("c", noon, 30, "d3"),
			history: []*activity.Session{
				session("a", day.Add(-20*time.Hour), 30, "d1"),
				session("b", day.Add(10*time.Hour), 30, "d2"),
			},
			want: false,
		},
		{
			name:    "single session over three hours",
			kind:    PatternExcessiveDuration,
			current: session("c", noon, 181, "d1"),
			want:    true,
		},
		{
			name:    "daily total over eight hours",
			kind:    PatternExcessiveDuration,
			current: session("c", day.Add(20*time.Hour), 170, "d1"),
			history: []*activity.Session{
				session("a", day.Add(6*time.Hour), 170, "d1"),
				session("b", day.Add(10*time.Hour), 170, "d1"),
			},
			want: true,
		},
		{
			name:    "mostly night sessions",
			kind:    PatternNightPattern,
			current: session("c", day.Add(2*time.Hour), 30, "d1"),
			history: []*activity.Session{
				session("a", day.Add(-22*time.Hour), 30, "d1"),
				session("b", day.Add(-21*time.Hour), 30, "d1"),
				session("x", day.Add(-10*time.Hour), 30, "d1"),
			},
			want: true,
		},
		{
			name:    "too few sessions for night share",
			kind:    PatternNightPattern,
			current: session("c", day.Add(2*time.Hour), 30, "d1"),
			history: []*activity.Session{
				session("a", day.Add(-22*time.Hour), 30, "d1"),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := newValidator().Assess(DefaultPolicy(), tt.current, tt.history, tt.current.End)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Triggered(tt.kind), "details: %v", a.Details)
		})
	}
}

func TestPerfectAccuracy_NeedsRepeatsBelowFlawless(t *testing.T) {
	mk := func(id string, at time.Time) *activity.Session {
		s := session(id, at, 20, "d1")
		s.Type = activity.TypeTest
		s.Questions, s.Correct = 20, 19
		return s
	}
	first := mk("a", day.Add(9*time.Hour))
	second := mk("b", day.Add(11*time.Hour))
	third := mk("c", day.Add(13*time.Hour))
	v := newValidator()

	a, err := v.Assess(DefaultPolicy(), second, []*activity.Session{first}, second.End)
	require.NoError(t, err)
	assert.False(t, a.Triggered(PatternPerfectAccuracy))

	a, err = v.Assess(DefaultPolicy(), third, []*activity.Session{first, second}, third.End)
	require.NoError(t, err)
	assert.True(t, a.Triggered(PatternPerfectAccuracy))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Risk.High = 20
	assert.ErrorIs(t, p.Validate(), shared.ErrPolicyMissing)

	p = DefaultPolicy()
	p.Weights["speed_typing"] = 10
	assert.Error(t, p.Validate())
}

func TestPolicyHolder_ReplaceRejectsInvalid(t *testing.T) {
	h, err := NewPolicyHolder(DefaultPolicy())
	require.NoError(t, err)

	bad := DefaultPolicy()
	bad.Version = 2
	bad.Weights = nil
	assert.Error(t, h.Replace(bad))
	assert.Equal(t, 1, h.Current().Version)

	good := DefaultPolicy()
	good.Version = 2
	require.NoError(t, h.Replace(good))
	assert.Equal(t, 2, h.Current().Version)
}

func TestRiskFor(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, RiskLow, p.RiskFor(29))
	assert.Equal(t, RiskMedium, p.RiskFor(30))
	assert.Equal(t, RiskMedium, p.RiskFor(59))
	assert.Equal(t, RiskHigh, p.RiskFor(60))
	assert.Equal(t, RiskCritical, p.RiskFor(80))
}
