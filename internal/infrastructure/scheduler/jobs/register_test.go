package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/app"
	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/trust"
	"github.com/studyhub/league-core/internal/infrastructure/scheduler"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

func testApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), app.MemoryStores(), app.Options{
		Policy: &config.PolicyFile{Fraud: *trust.DefaultPolicy(), Scoring: competition.DefaultScoringPolicy()},
		Logger: logger.Discard(),
	})
	require.NoError(t, err)
	return a
}

func TestRegisterAll(t *testing.T) {
	cfg := config.SchedulerConfig{
		RecomputeInterval:    5 * time.Minute,
		LifecycleInterval:    time.Minute,
		SettleInterval:       2 * time.Minute,
		HousekeepingInterval: time.Hour,
		RetentionSchedule:    "30 3 * * *",
	}
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: logger.Discard()})

	err := RegisterAll(s, testApp(t), cfg, config.PipelineConfig{EventRetention: 24 * time.Hour},
		time.UTC, timeutil.SystemClock{}, logger.Discard())
	require.NoError(t, err)

	var names []string
	for _, j := range s.ListJobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{
		"advance_competitions",
		"event_retention",
		"recompute_standings",
		"restriction_housekeeping",
		"settle_sessions",
	}, names)

	res, err := s.RunNow(context.Background(), "recompute_standings")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRegisterAll_BadRetentionSchedule(t *testing.T) {
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: logger.Discard()})

	err := RegisterAll(s, testApp(t), config.SchedulerConfig{RetentionSchedule: "every night"},
		config.PipelineConfig{}, time.UTC, nil, logger.Discard())
	assert.Error(t, err)
	assert.Empty(t, s.ListJobs())
}
