package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/shared"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetCounter().GetValue()
}

func TestHandleEvent_CountsDomainEvents(t *testing.T) {
	c := New(prometheus.NewRegistry())

	_ = c.HandleEvent(shared.NewSessionAssessedEvent("u1", "s1", "high", 75, "flagged",
		[]string{"rapid_sessions", "night_pattern"}, 1))
	_ = c.HandleEvent(shared.NewRestrictionImposedEvent("r1", "u1", "study_limit", "3 high-risk sessions", time.Now()))
	_ = c.HandleEvent(shared.NewRewardIssuedEvent("c1", "u1", "top_1", 1, 100, "daily_champion"))
	_ = c.HandleEvent(shared.NewStandingsRecomputedEvent("c1", 5, true))

	assert.Equal(t, 1.0, value(t, c.Assessments.WithLabelValues("high", "flagged")))
	assert.Equal(t, 1.0, value(t, c.PatternsTriggered.WithLabelValues("night_pattern")))
	assert.Equal(t, 1.0, value(t, c.RestrictionsImposed.WithLabelValues("study_limit")))
	assert.Equal(t, 100.0, value(t, c.RewardPoints))
	assert.Equal(t, 1.0, value(t, c.StandingsRecomputed.WithLabelValues("true")))
}

func TestObservers(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.JobFinished("settle_sessions", time.Second, nil)
	c.JobFinished("settle_sessions", time.Second, errors.New("boom"))
	c.EventHandled(shared.EventRewardIssued, time.Millisecond, errors.New("webhook down"))
	c.RequestServed("GET", "/health", 200, time.Millisecond)
	c.JoinRejected("competition_full")

	assert.Equal(t, 1.0, value(t, c.JobRuns.WithLabelValues("settle_sessions", "failure")))
	assert.Equal(t, 1.0, value(t, c.EventHandlerFailures.WithLabelValues(string(shared.EventRewardIssued))))
	assert.Equal(t, 1.0, value(t, c.HTTPRequests.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 1.0, value(t, c.JoinRejections.WithLabelValues("competition_full")))
}
