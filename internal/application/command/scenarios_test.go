package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
	"github.com/studyhub/league-core/internal/infrastructure/persistence/memory"
	"github.com/studyhub/league-core/pkg/timeutil"
)

var scenarioNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	clock        *timeutil.FixedClock
	events       *memory.EventRepository
	sessions     *memory.SessionRepository
	assessments  *memory.AssessmentRepository
	restrictions *memory.RestrictionRepository
	reports      *memory.ReportRepository
	comps        *memory.CompetitionRepository
	policies     *memory.PolicyStore
	holder       *trust.PolicyHolder

	pipeline   *SessionPipeline
	settler    *SessionSettler
	submit     *SubmitActivityHandler
	manual     *RequestManualSessionHandler
	create     *CreateCompetitionHandler
	join       *JoinCompetitionHandler
	recompute  *RecomputeStandingsHandler
	distribute *DistributeRewardsHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:        &timeutil.FixedClock{T: scenarioNow},
		events:       memory.NewEventRepository(),
		sessions:     memory.NewSessionRepository(),
		assessments:  memory.NewAssessmentRepository(),
		restrictions: memory.NewRestrictionRepository(),
		reports:      memory.NewReportRepository(),
		comps:        memory.NewCompetitionRepository(),
		policies:     memory.NewPolicyStore(),
	}

	policy, err := BootstrapPolicy(context.Background(), f.policies, trust.DefaultPolicy())
	require.NoError(t, err)
	f.holder, err = trust.NewPolicyHolder(policy)
	require.NoError(t, err)

	pub := shared.NoopPublisher{}
	f.pipeline = NewSessionPipeline(SessionPipelineDeps{
		Sessions:     f.sessions,
		Assessments:  f.assessments,
		Restrictions: f.restrictions,
		Reports:      f.reports,
		Policy:       f.holder,
		Validator:    trust.NewValidator(trust.DefaultRegistry(), time.UTC),
		Locker:       memory.NewUserLocker(),
		Publisher:    pub,
	})
	classifier := activity.NewClassifier(activity.DefaultClassifierConfig())
	f.settler = NewSessionSettler(f.events, classifier, f.pipeline, DefaultSettlerConfig(), nil)
	f.submit = NewSubmitActivityHandler(f.events, f.restrictions, f.settler, f.clock, nil)
	f.manual = NewRequestManualSessionHandler(f.pipeline, f.clock, nil)
	f.create = NewCreateCompetitionHandler(f.comps, pub, f.clock, nil)
	f.join = NewJoinCompetitionHandler(f.comps, f.comps, pub, f.clock, nil)
	f.recompute = NewRecomputeStandingsHandler(RecomputeStandingsDeps{
		Competitions: f.comps,
		Reports:      f.reports,
		Cache:        memory.NewStandingsCache(),
		Publisher:    pub,
		Scoring:      competition.DefaultScoringPolicy(),
		Clock:        f.clock,
	})
	f.distribute = NewDistributeRewardsHandler(f.comps, f.comps, f.recompute, pub, f.clock, nil)
	return f
}

func (f *fixture) reportFor(t *testing.T, userID shared.UserID) *report.DailyReport {
	t.Helper()
	r, err := f.reports.Get(context.Background(), userID, report.DateOf(f.clock.Now(), time.UTC))
	require.NoError(t, err)
	return r
}

func (f *fixture) dailyCompetition(t *testing.T, capacity int) *competition.Competition {
	t.Helper()
	res, err := f.create.Handle(context.Background(), CreateCompetitionCommand{
		Name:     "Tuesday sprint",
		Type:     competition.TypeDaily,
		Tier:     competition.TierBronze,
		Start:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Capacity: capacity,
	})
	require.NoError(t, err)
	return res.Competition
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

func TestManualSession_ImplausibleAnswerRateIsExcludedFromReport(t *testing.T) {
	f := newFixture(t)

	res, err := f.manual.Handle(context.Background(), RequestManualSessionCommand{
		UserID: "u1", Minutes: 4, Questions: 600, Correct: 600, Subject: "math",
	})
	require.NoError(t, err)

	s := res.Session
	assert.Equal(t, SessionRejected, s.Status)
	assert.True(t, s.Risk.AtLeast(trust.RiskHigh))
	assert.Contains(t, s.Patterns, string(trust.PatternAnswerRate))
	assert.Contains(t, s.Patterns, string(trust.PatternPerfectAccuracy))
	assert.False(t, s.Applied)

	_, err = f.reports.Get(context.Background(), "u1", report.DateOf(scenarioNow, time.UTC))
	assert.ErrorIs(t, err, shared.ErrReportNotFound)
}

func TestPipeline_RapidSessionsAreFlaggedButCounted(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	var batch []*activity.Session
	for i := 0; i < 5; i++ {
		from := start.Add(time.Duration(i*12) * time.Minute)
		batch = append(batch, &activity.Session{
			ID:      fmt.Sprintf("s%d", i),
			UserID:  "u1",
			Type:    activity.TypeStudy,
			Start:   from,
			End:     from.Add(10 * time.Minute),
			Subject: "math",
			Device:  "d1",
			Source:  activity.SourceManual,
		})
	}

	pr, err := f.pipeline.Process(context.Background(), "u1", batch, scenarioNow)
	require.NoError(t, err)
	require.Len(t, pr.Sessions, 5)

	last := pr.Sessions[4]
	assert.Equal(t, SessionFlagged, last.Status)
	assert.Equal(t, trust.RiskMedium, last.Risk)
	assert.Contains(t, last.Patterns, string(trust.PatternRapidSessions))
	assert.NotContains(t, last.Patterns, string(trust.PatternDeviceSwitching))
	assert.True(t, last.Applied)
	assert.Nil(t, pr.Imposed)

	r := f.reportFor(t, "u1")
	assert.Equal(t, 50, r.Minutes)
	assert.Equal(t, 5, r.Sessions)
	assert.Equal(t, 1, r.FlaggedSessions)
}

func TestPipeline_ThirdHighRiskSessionImposesRestriction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cheat := RequestManualSessionCommand{UserID: "u1", Minutes: 4, Questions: 600, Correct: 600}

	for i := 0; i < 3; i++ {
		_, err := f.manual.Handle(ctx, cheat)
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)
	}

	rs, err := f.restrictions.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, restriction.SystemActor, rs[0].CreatedBy)
	assert.True(t, restriction.IsActive(rs[0], f.clock.Now()))

	// An honest session is refused while the restriction holds.
	_, err = f.manual.Handle(ctx, RequestManualSessionCommand{UserID: "u1", Minutes: 30})
	var active *restriction.ActiveError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, rs[0].ExpiresAt, active.ExpiresAt)
	assert.ErrorIs(t, err, shared.ErrRestrictionActive)

	// Other users are unaffected.
	res, err := f.manual.Handle(ctx, RequestManualSessionCommand{UserID: "u2", Minutes: 30})
	require.NoError(t, err)
	assert.Equal(t, SessionCounted, res.Session.Status)

	// The three high-risk assessments are still inside the rolling window,
	// so the lapsed restriction is renewed before the session is assessed.
	f.clock.Advance(25 * time.Hour)
	_, err = f.manual.Handle(ctx, RequestManualSessionCommand{UserID: "u1", Minutes: 30})
	require.ErrorAs(t, err, &active)
	assert.ErrorIs(t, err, shared.ErrRestrictionActive)

	rs, err = f.restrictions.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	renewed := restriction.Latest(rs, f.clock.Now())
	require.NotNil(t, renewed)
	assert.Equal(t, active.ExpiresAt, renewed.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), renewed.ExpiresAt)

	_, err = f.reports.Get(ctx, "u1", report.DateOf(f.clock.Now(), time.UTC))
	assert.ErrorIs(t, err, shared.ErrReportNotFound)
}

func TestPipeline_LapsedRestrictionBlocksAutoSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cheat := RequestManualSessionCommand{UserID: "u1", Minutes: 4, Questions: 600, Correct: 600}
	for i := 0; i < 3; i++ {
		_, err := f.manual.Handle(ctx, cheat)
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)
	}

	f.clock.Advance(25 * time.Hour)
	now := f.clock.Now()
	res, err := f.submit.Handle(ctx, SubmitActivityCommand{
		UserID: "u1",
		Events: []*activity.RawEvent{{
			ID:    "e1",
			Type:  activity.TypeStudy,
			Start: now.Add(-60 * time.Minute),
			End:   now.Add(-20 * time.Minute),
		}},
	})
	require.NoError(t, err)
	require.Len(t, res.Sessions, 1)
	assert.Equal(t, SessionBlocked, res.Sessions[0].Status)
	assert.False(t, res.Sessions[0].Applied)
	require.NotNil(t, res.RestrictedUntil)
	assert.Equal(t, now.Add(24*time.Hour), *res.RestrictedUntil)

	assessed, err := f.assessments.ListByUser(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, assessed)
}

func TestPipeline_OperatorClearIsNotUndone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cheat := RequestManualSessionCommand{UserID: "u1", Minutes: 4, Questions: 600, Correct: 600}
	for i := 0; i < 3; i++ {
		_, err := f.manual.Handle(ctx, cheat)
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)
	}

	rs, err := f.restrictions.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.NoError(t, rs[0].Clear("ops@example.com", f.clock.Now()))
	require.NoError(t, f.restrictions.Save(ctx, rs[0]))

	f.clock.Advance(time.Minute)
	res, err := f.manual.Handle(ctx, RequestManualSessionCommand{UserID: "u1", Minutes: 10})
	require.NoError(t, err)
	assert.Equal(t, SessionCounted, res.Session.Status)

	rs, err = f.restrictions.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func TestSettle_ReplayNeverCountsTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.submit.Handle(ctx, SubmitActivityCommand{
		UserID: "u1",
		Events: []*activity.RawEvent{{
			ID:                "e1",
			Type:              activity.TypeStudy,
			Start:             scenarioNow.Add(-60 * time.Minute),
			End:               scenarioNow.Add(-30 * time.Minute),
			DeviceFingerprint: "d1",
			Subject:           "physics",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Sessions, 1)
	assert.True(t, res.Sessions[0].Applied)

	again, err := f.settler.Settle(ctx, "u1", scenarioNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Known)
	assert.Empty(t, again.Sessions)

	assert.Equal(t, 30, f.reportFor(t, "u1").Minutes)
}

func TestSettle_LateEventExtendingSettledSpanCountsTheRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := func(id string, from, to time.Duration) *activity.RawEvent {
		return &activity.RawEvent{
			ID:                id,
			Type:              activity.TypeStudy,
			Start:             scenarioNow.Add(from),
			End:               scenarioNow.Add(to),
			DeviceFingerprint: "d1",
		}
	}

	first, err := f.submit.Handle(ctx, SubmitActivityCommand{
		UserID: "u1",
		Events: []*activity.RawEvent{event("e1", -120*time.Minute, -90*time.Minute)},
	})
	require.NoError(t, err)
	require.Len(t, first.Sessions, 1)
	assert.Equal(t, 30, f.reportFor(t, "u1").Minutes)

	// e2 starts two minutes after e1 ended, so it re-derives one longer span.
	late, err := f.submit.Handle(ctx, SubmitActivityCommand{
		UserID: "u1",
		Events: []*activity.RawEvent{event("e2", -88*time.Minute, -28*time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, late.Accepted)
	require.Len(t, late.Sessions, 1)
	got := late.Sessions[0]
	assert.True(t, got.Applied)
	assert.Equal(t, 62, got.Minutes)
	assert.Equal(t, scenarioNow.Add(-90*time.Minute), got.Start)
	assert.NotEqual(t, first.Sessions[0].SessionID, got.SessionID)
	assert.Equal(t, 92, f.reportFor(t, "u1").Minutes)

	again, err := f.settler.Settle(ctx, "u1", scenarioNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Known)
	assert.Empty(t, again.Sessions)
	assert.Equal(t, 92, f.reportFor(t, "u1").Minutes)
}

func TestSettle_EventOlderThanLookbackIsStillCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := scenarioNow.Add(-30 * time.Hour)

	res, err := f.submit.Handle(ctx, SubmitActivityCommand{
		UserID: "u1",
		Events: []*activity.RawEvent{{
			ID:    "old",
			Type:  activity.TypeStudy,
			Start: start,
			End:   start.Add(45 * time.Minute),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Sessions, 1)
	assert.True(t, res.Sessions[0].Applied)

	r, err := f.reports.Get(ctx, "u1", report.DateOf(start, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 45, r.Minutes)

	_, ok, err := f.events.EarliestUnsettled(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmit_StaleEventIsMalformed(t *testing.T) {
	f := newFixture(t)
	start := scenarioNow.Add(-activity.MaxEventAge - time.Hour)

	res, err := f.submit.Handle(context.Background(), SubmitActivityCommand{
		UserID: "u1",
		Events: []*activity.RawEvent{{
			ID:    "ancient",
			Type:  activity.TypeStudy,
			Start: start,
			End:   start.Add(30 * time.Minute),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, 1, res.Malformed)
	assert.Empty(t, res.Sessions)
}

func TestManualSession_RetryIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := RequestManualSessionCommand{UserID: "u1", Minutes: 30, Subject: "math"}

	first, err := f.manual.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, first.Duplicate())
	assert.Equal(t, SessionCounted, first.Session.Status)

	again, err := f.manual.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, again.Duplicate())
	assert.Equal(t, first.Session.SessionID, again.Session.SessionID)
	assert.False(t, again.Session.Applied)

	r := f.reportFor(t, "u1")
	assert.Equal(t, 30, r.Minutes)
	assert.Equal(t, 1, r.Sessions)
}

func TestManualSession_IdempotencyKeySurvivesClockDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := RequestManualSessionCommand{UserID: "u1", Minutes: 20, IdempotencyKey: "req-7"}

	first, err := f.manual.Handle(ctx, cmd)
	require.NoError(t, err)
	require.False(t, first.Duplicate())

	f.clock.Advance(40 * time.Minute)
	again, err := f.manual.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, again.Duplicate())
	assert.Equal(t, first.Session.SessionID, again.Session.SessionID)
	assert.Equal(t, 20, f.reportFor(t, "u1").Minutes)

	cmd.IdempotencyKey = "req-8"
	other, err := f.manual.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, other.Duplicate())
	assert.Equal(t, 40, f.reportFor(t, "u1").Minutes)
}

func TestManualSession_OverlapWithTrackedTimeIsClipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.submit.Handle(ctx, SubmitActivityCommand{
		UserID: "u1",
		Events: []*activity.RawEvent{{
			ID:    "e1",
			Type:  activity.TypeStudy,
			Start: scenarioNow.Add(-60 * time.Minute),
			End:   scenarioNow.Add(-30 * time.Minute),
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 30, f.reportFor(t, "u1").Minutes)

	res, err := f.manual.Handle(ctx, RequestManualSessionCommand{UserID: "u1", Minutes: 45})
	require.NoError(t, err)
	assert.Equal(t, SessionCounted, res.Session.Status)
	assert.Equal(t, 30, res.Session.Minutes)
	assert.Equal(t, scenarioNow.Add(-30*time.Minute), res.Session.Start)
	assert.Empty(t, res.Parts)
	assert.Equal(t, 60, f.reportFor(t, "u1").Minutes)

	// Time already tracked in full is a duplicate, not a new session.
	covered, err := f.manual.Handle(ctx, RequestManualSessionCommand{UserID: "u1", Minutes: 20})
	require.NoError(t, err)
	assert.True(t, covered.Duplicate())
	assert.Equal(t, 60, f.reportFor(t, "u1").Minutes)
}

func TestSubmit_DuplicateEventIsReported(t *testing.T) {
	f := newFixture(t)
	ev := func() *activity.RawEvent {
		return &activity.RawEvent{
			ID:    "e1",
			Type:  activity.TypeFocus,
			Start: scenarioNow.Add(-40 * time.Minute),
			End:   scenarioNow.Add(-20 * time.Minute),
		}
	}

	_, err := f.submit.Handle(context.Background(), SubmitActivityCommand{UserID: "u1", Events: []*activity.RawEvent{ev()}})
	require.NoError(t, err)
	res, err := f.submit.Handle(context.Background(), SubmitActivityCommand{UserID: "u1", Events: []*activity.RawEvent{ev()}})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 20, f.reportFor(t, "u1").Minutes)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPETITIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestJoin_ConcurrentJoinsRespectCapacity(t *testing.T) {
	f := newFixture(t)
	c := f.dailyCompetition(t, 5)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
		full   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.join.Handle(context.Background(), JoinCompetitionCommand{
				CompetitionID: c.ID,
				UserID:        shared.UserID(fmt.Sprintf("u%02d", i)),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, shared.ErrCompetitionFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, joined)
	assert.Equal(t, 15, full)
	n, err := f.comps.CountParticipants(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRecompute_TieOrderIsReproducible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dailyCompetition(t, 10)

	for _, u := range []shared.UserID{"u2", "u1"} {
		_, err := f.join.Handle(ctx, JoinCompetitionCommand{CompetitionID: c.ID, UserID: u})
		require.NoError(t, err)
		_, err = f.manual.Handle(ctx, RequestManualSessionCommand{UserID: u, Minutes: 45})
		require.NoError(t, err)
	}

	order := func() []shared.UserID {
		res, err := f.recompute.Handle(ctx, RecomputeStandingsCommand{CompetitionID: c.ID})
		require.NoError(t, err)
		var ids []shared.UserID
		for i, p := range res.Standings {
			assert.Equal(t, shared.Rank(i+1), p.Rank)
			ids = append(ids, p.UserID)
		}
		return ids
	}

	first := order()
	require.Len(t, first, 2)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, order())
	}
}

func TestDistribute_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dailyCompetition(t, 10)

	for i, u := range []shared.UserID{"u1", "u2"} {
		_, err := f.join.Handle(ctx, JoinCompetitionCommand{CompetitionID: c.ID, UserID: u})
		require.NoError(t, err)
		_, err = f.manual.Handle(ctx, RequestManualSessionCommand{UserID: u, Minutes: 60 - i*20})
		require.NoError(t, err)
	}

	_, err := f.distribute.Handle(ctx, DistributeRewardsCommand{CompetitionID: c.ID})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	f.clock.Advance(10 * time.Hour)
	res, err := f.distribute.Handle(ctx, DistributeRewardsCommand{CompetitionID: c.ID})
	require.NoError(t, err)
	require.Len(t, res.Issued, 2)
	assert.Equal(t, shared.UserID("u1"), res.Issued[0].UserID)
	assert.Equal(t, "top_1", res.Issued[0].Tier)

	again, err := f.distribute.Handle(ctx, DistributeRewardsCommand{CompetitionID: c.ID})
	require.NoError(t, err)
	assert.True(t, again.AlreadyRewarded)
	assert.Empty(t, again.Issued)

	b1, _ := f.comps.Balance(ctx, "u1")
	b2, _ := f.comps.Balance(ctx, "u2")
	assert.Equal(t, 100, b1)
	assert.Equal(t, 50, b2)

	stored, err := f.comps.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, competition.StatusRewarded, stored.Status)

	// Frozen ranks survive later report changes.
	_, err = f.recompute.Handle(ctx, RecomputeStandingsCommand{CompetitionID: c.ID})
	require.NoError(t, err)
	p, err := f.comps.GetParticipant(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.True(t, p.Frozen)
	assert.Equal(t, shared.Rank(1), p.Rank)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(ev shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) rewardedUsers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if r, ok := ev.(shared.RewardIssuedEvent); ok {
			out = append(out, r.UserID)
		}
	}
	return out
}

// failingRewardedStatus refuses the final status change a set number of times.
type failingRewardedStatus struct {
	*memory.CompetitionRepository
	failures int
}

func (r *failingRewardedStatus) UpdateStatus(ctx context.Context, id string, from, to competition.Status) error {
	if to == competition.StatusRewarded && r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	return r.CompetitionRepository.UpdateStatus(ctx, id, from, to)
}

func TestDistribute_NotificationsSurviveFailedStatusUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.dailyCompetition(t, 10)

	for i, u := range []shared.UserID{"u1", "u2"} {
		_, err := f.join.Handle(ctx, JoinCompetitionCommand{CompetitionID: c.ID, UserID: u})
		require.NoError(t, err)
		_, err = f.manual.Handle(ctx, RequestManualSessionCommand{UserID: u, Minutes: 60 - i*20})
		require.NoError(t, err)
	}
	f.clock.Advance(10 * time.Hour)

	comps := &failingRewardedStatus{CompetitionRepository: f.comps, failures: 1}
	pub := &recordingPublisher{}
	distribute := NewDistributeRewardsHandler(comps, f.comps, f.recompute, pub, f.clock, nil)

	_, err := distribute.Handle(ctx, DistributeRewardsCommand{CompetitionID: c.ID})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, pub.rewardedUsers())

	// The retry issues nothing new but still announces the stored rewards.
	pub.events = nil
	res, err := distribute.Handle(ctx, DistributeRewardsCommand{CompetitionID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, res.Issued)
	assert.Equal(t, 2, res.Skipped)
	assert.ElementsMatch(t, []string{"u1", "u2"}, pub.rewardedUsers())

	b1, _ := f.comps.Balance(ctx, "u1")
	assert.Equal(t, 100, b1)

	stored, err := f.comps.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, competition.StatusRewarded, stored.Status)

	pub.events = nil
	again, err := distribute.Handle(ctx, DistributeRewardsCommand{CompetitionID: c.ID})
	require.NoError(t, err)
	assert.True(t, again.AlreadyRewarded)
	assert.Empty(t, pub.rewardedUsers())
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

func TestBootstrapPolicy_StoredNewerVersionWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPolicyStore()

	newer := trust.DefaultPolicy()
	newer.Version = 4
	require.NoError(t, store.Save(ctx, newer))

	got, err := BootstrapPolicy(ctx, store, trust.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 4, got.Version)

	_, err = BootstrapPolicy(ctx, store, nil)
	assert.ErrorIs(t, err, shared.ErrMisconfigured)
}

func TestUpdatePolicy_BumpsVersionAndRejectsIncomplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewUpdatePolicyHandler(f.policies, f.holder, f.clock, nil)

	next := trust.DefaultPolicy()
	next.Weights[trust.PatternNightPattern] = 20
	updated, err := h.Handle(ctx, UpdatePolicyCommand{Policy: next, Operator: "ops"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 2, f.holder.Current().Version)

	broken := trust.DefaultPolicy()
	delete(broken.Weights, trust.PatternAnswerRate)
	_, err = h.Handle(ctx, UpdatePolicyCommand{Policy: broken, Operator: "ops"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Equal(t, 2, f.holder.Current().Version)

	stored, err := f.policies.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}
