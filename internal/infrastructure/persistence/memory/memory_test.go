package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func event(user shared.UserID, start time.Time, minutes int) *activity.RawEvent {
	return &activity.RawEvent{
		ID:     fmt.Sprintf("%s-%d", user, start.Unix()),
		UserID: user,
		Type:   activity.TypeStudy,
		Start:  start,
		End:    start.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestEventRepository_DedupesOnContentNotID(t *testing.T) {
	ctx := context.Background()
	r := NewEventRepository()

	e := event("u1", now.Add(-time.Hour), 20)
	ok, err := r.Append(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same span with another ID and another offset is the same submission.
	again := *e
	again.ID = "other"
	again.Start = e.Start.In(time.FixedZone("UTC+5", 5*3600))
	ok, err = r.Append(ctx, &again)
	require.NoError(t, err)
	assert.False(t, ok)

	evs, err := r.ListByUser(ctx, "u1", now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestEventRepository_SettleLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewEventRepository()

	_, _ = r.Append(ctx, event("u1", now.Add(-time.Hour), 20))
	_, _ = r.Append(ctx, event("u1", now.Add(-10*time.Minute), 5))
	_, _ = r.Append(ctx, event("u2", now.Add(-3*time.Hour), 20))

	users, err := r.ListUnsettledUsers(ctx, now.Add(-30*time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{"u1", "u2"}, users)

	n, err := r.MarkSettled(ctx, "u1", now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	users, err = r.ListUnsettledUsers(ctx, now.Add(-30*time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{"u2"}, users)

	n, err = r.DeleteOlderThan(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A deleted event may be submitted again.
	ok, err := r.Append(ctx, event("u2", now.Add(-3*time.Hour), 20))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionRepository_Overlap(t *testing.T) {
	ctx := context.Background()
	r := NewSessionRepository()
	s := &activity.Session{ID: "s1", UserID: "u1", Start: now, End: now.Add(30 * time.Minute)}
	require.NoError(t, r.Save(ctx, s))
	require.NoError(t, r.Save(ctx, s))

	got, err := r.FindOverlapping(ctx, "u1", now.Add(29*time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = r.FindOverlapping(ctx, "u1", now.Add(30*time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = r.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestReportRepository_ConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	r := NewReportRepository()
	date := report.DateOf(now, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inc := report.Increment{
				DedupeKey: fmt.Sprintf("s%d", i%25),
				UserID:    "u1",
				Date:      date,
				Minutes:   10,
				Subject:   "math",
			}
			_, err := r.Apply(ctx, inc)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rep, err := r.Get(ctx, "u1", date)
	require.NoError(t, err)
	assert.Equal(t, 250, rep.Minutes)
	assert.Equal(t, 25, rep.Sessions)
	assert.Equal(t, []string{"math"}, rep.Subjects)
}

func TestReportRepository_RejectsInvalidIncrement(t *testing.T) {
	r := NewReportRepository()
	_, err := r.Apply(context.Background(), report.Increment{
		DedupeKey: "s1", UserID: "u1", Date: "2026-03-10", Correct: 5, TotalQuestions: 3,
	})
	assert.Error(t, err)

	_, err = r.Get(context.Background(), "u1", "2026-03-10")
	assert.ErrorIs(t, err, shared.ErrReportNotFound)
}

func TestUserLocker_SerializesOneUser(t *testing.T) {
	l := NewUserLocker()
	var inside, maxInside int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "u1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, l.locks)
}

func TestUserLocker_HonorsContext(t *testing.T) {
	l := NewUserLocker()
	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)

	// Another user is not blocked.
	other, err := l.Lock(context.Background(), "u2")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Empty(t, l.locks)
}

func TestRestrictionRepository_ActiveAndHousekeeping(t *testing.T) {
	ctx := context.Background()
	r := NewRestrictionRepository()

	old, _ := restriction.New("u1", restriction.KindStudyLimit, "old", restriction.SystemActor, now.Add(-48*time.Hour), 24*time.Hour)
	live, _ := restriction.New("u1", restriction.KindOperator, "live", "ops", now, 24*time.Hour)
	require.NoError(t, r.Save(ctx, old))
	require.NoError(t, r.Save(ctx, live))

	active, err := r.ListActive(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	all, err := r.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, live.ID, all[0].ID)

	n, err := r.DeleteExpiredBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, shared.ErrRestrictionNotFound)
}

func TestCompetitionRepository_RewardsAreInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	r := NewCompetitionRepository()
	rec := &competition.RewardRecord{CompetitionID: "c1", UserID: "u1", Tier: "top_1", Rank: 1, Points: 100, IssuedAt: now}

	ok, err := r.IssueIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.IssueIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := r.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, b)

	recs, err := r.ListByCompetition(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStandingsCache(t *testing.T) {
	ctx := context.Background()
	c := NewStandingsCache()

	_, _, err := c.RankOf(ctx, "c1", "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, c.Replace(ctx, "c1", []*competition.Participant{
		{UserID: "u1", Rank: 1, Points: 50},
		{UserID: "u2", Rank: 2, Points: 40},
	}))

	top, err := c.Top(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, shared.UserID("u1"), top[0].UserID)

	rank, total, err := c.RankOf(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(2), rank)
	assert.Equal(t, 2, total)

	_, _, err = c.RankOf(ctx, "c1", "u3")
	assert.ErrorIs(t, err, shared.ErrParticipantNotFound)
}
