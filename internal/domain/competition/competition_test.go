package competition

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/shared"
)

var t0 = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func weekly(t *testing.T) *Competition {
	t.Helper()
	c, err := New("Weekly Gold", TypeWeekly, TierGold, t0, DefaultSettings(TypeWeekly), t0.Add(-time.Hour))
	require.NoError(t, err)
	return c
}

func TestStatusIsTimeDriven(t *testing.T) {
	c := weekly(t)

	assert.Equal(t, StatusScheduled, c.Status)
	assert.Equal(t, StatusScheduled, c.EffectiveStatus(t0.Add(-time.Second)))
	assert.Equal(t, StatusOpen, c.EffectiveStatus(t0))
	assert.Equal(t, StatusOpen, c.EffectiveStatus(c.End.Add(-time.Nanosecond)))
	assert.Equal(t, StatusClosed, c.EffectiveStatus(c.End))

	c.Status = StatusRewarded
	assert.Equal(t, StatusRewarded, c.EffectiveStatus(c.End.Add(time.Hour)))
}

func TestTransitions(t *testing.T) {
	c := weekly(t)

	require.NoError(t, c.Transition(StatusOpen))
	assert.ErrorIs(t, c.Transition(StatusRewarded), shared.ErrStateTransition)
	require.NoError(t, c.Transition(StatusClosed))
	assert.ErrorIs(t, c.Transition(StatusOpen), shared.ErrInvalidTransition)
	require.NoError(t, c.Transition(StatusRewarded))
	assert.Error(t, c.Transition(StatusRewarded))
}

func TestPoints(t *testing.T) {
	p := DefaultScoringPolicy()

	got := p.Points(Metrics{Minutes: 120, Tests: 3, Accuracy: 87.5, Streak: 4})

	assert.Equal(t, 120+30+437+20, got)

	p.StreakCap = 10
	assert.Equal(t, 120+30+437+10, p.Points(Metrics{Minutes: 120, Tests: 3, Accuracy: 87.5, Streak: 4}))
}

func TestMetricsFromReports(t *testing.T) {
	reports := []*report.DailyReport{
		{Date: "2025-03-09", Minutes: 999},
		{Date: "2025-03-10", Minutes: 30, Tests: 1, Correct: 8, TotalQuestions: 10},
		{Date: "2025-03-11", Minutes: 40},
		{Date: "2025-03-13", Minutes: 20, Tests: 1, Correct: 2, TotalQuestions: 10},
		{Date: "2025-03-14", Minutes: 10},
		{Date: "2025-03-15", Minutes: 10},
	}

	m := MetricsFromReports(reports, "2025-03-10", "2025-03-16")

	assert.Equal(t, 110, m.Minutes)
	assert.Equal(t, 2, m.Tests)
	assert.InDelta(t, 50.0, m.Accuracy, 0.001)
	assert.Equal(t, 3, m.Streak)
}

func TestRank_TotalOrderAndTieChain(t *testing.T) {
	ps := []*Participant{
		{UserID: "e", Points: 100, Metrics: Metrics{Minutes: 50, Accuracy: 80}, JoinedAt: t0.Add(2 * time.Hour)},
		{UserID: "d", Points: 100, Metrics: Metrics{Minutes: 50, Accuracy: 80}, JoinedAt: t0.Add(time.Hour)},
		{UserID: "c", Points: 100, Metrics: Metrics{Minutes: 50, Accuracy: 90}, JoinedAt: t0.Add(3 * time.Hour)},
		{UserID: "b", Points: 100, Metrics: Metrics{Minutes: 60}, JoinedAt: t0.Add(4 * time.Hour)},
		{UserID: "a", Points: 150},
		{UserID: "f", Points: 10},
	}

	Rank(ps)

	order := make([]shared.UserID, len(ps))
	for i, p := range ps {
		order[i] = p.UserID
		assert.Equal(t, shared.Rank(i+1), p.Rank)
	}
	assert.Equal(t, []shared.UserID{"a", "b", "c", "d", "e", "f"}, order)

	for i := 1; i < len(ps); i++ {
		assert.GreaterOrEqual(t, ps[i-1].Points, ps[i].Points)
	}
}

func TestStandings_TieIsReproducible(t *testing.T) {
	policy := DefaultScoringPolicy()
	participants := []*Participant{
		{UserID: "late", JoinedAt: t0.Add(time.Hour)},
		{UserID: "early", JoinedAt: t0},
	}
	// Same points, minutes break the tie.
	metrics := map[shared.UserID]Metrics{
		"late":  {Minutes: 100, Tests: 0},
		"early": {Minutes: 90, Tests: 1},
	}

	var runs [][]shared.UserID
	for i := 0; i < 5; i++ {
		st := Standings(policy, participants, metrics, t0)
		require.Equal(t, st[0].Points, st[1].Points)
		runs = append(runs, []shared.UserID{st[0].UserID, st[1].UserID})
	}

	for _, r := range runs {
		assert.Equal(t, []shared.UserID{"late", "early"}, r)
	}
	assert.Zero(t, participants[0].Points, "input must not be mutated")
}

func TestStandings_FrozenKeepsFinalRanks(t *testing.T) {
	participants := []*Participant{
		{UserID: "a", Points: 10, Rank: 2, Frozen: true},
		{UserID: "b", Points: 20, Rank: 1, Frozen: true},
	}

	st := Standings(DefaultScoringPolicy(), participants, map[shared.UserID]Metrics{"a": {Minutes: 1000}}, t0)

	assert.Equal(t, shared.UserID("b"), st[0].UserID)
	assert.Equal(t, 10, st[1].Points)
}

func TestCheckJoin(t *testing.T) {
	c := weekly(t)
	open := t0.Add(time.Hour)
	base := JoinRequest{Competition: c, UserID: "u1", Participants: 0, Balance: 100, Now: open}

	tests := []struct {
		name string
		mut  func(r *JoinRequest)
		want error
	}{
		{"ok", func(r *JoinRequest) {}, nil},
		{"not open yet", func(r *JoinRequest) { r.Now = t0.Add(-time.Minute) }, shared.ErrCompetitionClosed},
		{"closed", func(r *JoinRequest) { r.Now = c.End }, shared.ErrCompetitionClosed},
		{"double join", func(r *JoinRequest) { r.AlreadyJoined = true }, shared.ErrAlreadyJoined},
		{"full", func(r *JoinRequest) { r.Participants = c.Capacity }, shared.ErrCompetitionFull},
		{"poor", func(r *JoinRequest) { r.Balance = 99 }, shared.ErrEntryRequirementNotMet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mut(&req)
			err := CheckJoin(req)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			var rej *JoinRejection
			assert.True(t, errors.As(err, &rej))
		})
	}
}

func TestPrivateInvite(t *testing.T) {
	c, code, err := NewPrivate("creator", PrivateConfig{Name: "Study buddies", Capacity: 5}, t0)
	require.NoError(t, err)
	require.Len(t, code, 10)

	assert.True(t, c.Private)
	assert.Equal(t, StatusOpen, c.Status)
	assert.True(t, c.CheckInvite(code))
	assert.True(t, c.CheckInvite(" "+code+" "))
	assert.False(t, c.CheckInvite("WRONG"))

	req := JoinRequest{Competition: c, UserID: "friend", Now: t0.Add(time.Minute)}
	assert.ErrorIs(t, CheckJoin(req), shared.ErrEntryRequirementNotMet)
	req.InviteCode = code
	assert.NoError(t, CheckJoin(req))
	req.UserID, req.InviteCode = "creator", ""
	assert.NoError(t, CheckJoin(req))
}

func TestPlanRewards(t *testing.T) {
	c := weekly(t)
	var ps []*Participant
	for i := 1; i <= 12; i++ {
		ps = append(ps, &Participant{UserID: shared.UserID(fmt.Sprintf("u%02d", i)), Rank: shared.Rank(i), Points: 100 - i})
	}
	ps[10].Points = 0

	plan := PlanRewards(c, ps, t0)

	require.Len(t, plan, 10)
	assert.Equal(t, "top_1", plan[0].Tier)
	assert.Equal(t, 500, plan[0].Points)
	assert.Equal(t, "weekly_champion", plan[0].Badge)
	assert.Equal(t, "top_3", plan[1].Tier)
	assert.Equal(t, "top_3", plan[2].Tier)
	assert.Equal(t, "top_10", plan[9].Tier)

	seen := make(map[shared.UserID]int)
	for _, r := range plan {
		seen[r.UserID]++
	}
	for u, n := range seen {
		assert.Equal(t, 1, n, "user %s got several tiers", u)
	}
}
