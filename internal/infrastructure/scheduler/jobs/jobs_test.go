package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/application/command"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

type fakeSettler struct{ at time.Time }

func (f *fakeSettler) SettleDue(_ context.Context, now time.Time) (int, error) {
	f.at = now
	return 3, nil
}

type fakeAdvancer struct{ res *command.AdvanceResult }

func (f fakeAdvancer) Handle(context.Context) (*command.AdvanceResult, error) { return f.res, nil }

type fakePurger struct{ cutoff time.Time }

func (f *fakePurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return 0, nil
}

type fakeHousekeeper struct{ err error }

func (f fakeHousekeeper) Housekeep(context.Context, time.Duration) (int, error) { return 0, f.err }

func TestSettleSessionsJob_UsesClock(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	s := &fakeSettler{}
	job := NewSettleSessionsJob(s, &timeutil.FixedClock{T: now}, logger.Discard())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now, s.at)
	assert.Equal(t, "settle_sessions", job.Name())
}

func TestAdvanceCompetitionsJob_ReportsFailures(t *testing.T) {
	ok := NewAdvanceCompetitionsJob(fakeAdvancer{res: &command.AdvanceResult{Opened: 1}}, logger.Discard())
	assert.NoError(t, ok.Run(context.Background()))

	bad := NewAdvanceCompetitionsJob(fakeAdvancer{res: &command.AdvanceResult{Finished: 1, Failed: 2}}, logger.Discard())
	assert.EqualError(t, bad.Run(context.Background()), "2 competitions failed to advance")
}

func TestEventRetentionJob_Cutoff(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	p := &fakePurger{}
	job := NewEventRetentionJob(p, 48*time.Hour, &timeutil.FixedClock{T: now}, logger.Discard())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-48*time.Hour), p.cutoff)
}

func TestRestrictionHousekeepingJob_PropagatesError(t *testing.T) {
	boom := errors.New("db down")
	job := NewRestrictionHousekeepingJob(fakeHousekeeper{err: boom}, 0)
	assert.ErrorIs(t, job.Run(context.Background()), boom)
	assert.Contains(t, job.Description(), "720h0m0s")
}
