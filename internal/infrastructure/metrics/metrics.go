// Package metrics defines the Prometheus collectors of the league core and
// feeds them from domain events, the event bus, the scheduler and HTTP.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/studyhub/league-core/internal/domain/shared"
)

const namespace = "league"

// Collectors holds every metric. Create one per registry.
type Collectors struct {
	Assessments         *prometheus.CounterVec
	PatternsTriggered   *prometheus.CounterVec
	RestrictionsImposed *prometheus.CounterVec
	RestrictionsCleared prometheus.Counter
	ParticipantsJoined  prometheus.Counter
	JoinRejections      *prometheus.CounterVec
	RewardsIssued       *prometheus.CounterVec
	RewardPoints        prometheus.Counter
	StandingsRecomputed *prometheus.CounterVec
	StatusChanges       *prometheus.CounterVec

	EventsPublished      *prometheus.CounterVec
	EventHandlerDuration *prometheus.HistogramVec
	EventHandlerFailures *prometheus.CounterVec

	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Assessed sessions by risk level and outcome.",
		}, []string{"risk", "outcome"}),
		PatternsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_triggered_total",
			Help:      "Fraud patterns triggered by assessments.",
		}, []string{"pattern"}),
		RestrictionsImposed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restrictions_imposed_total",
			Help:      "Restrictions imposed by kind.",
		}, []string{"kind"}),
		RestrictionsCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restrictions_cleared_total",
			Help:      "Restrictions lifted early by an operator.",
		}),
		ParticipantsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_joined_total",
			Help:      "Successful competition joins.",
		}),
		JoinRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_rejections_total",
			Help:      "Rejected competition joins by reason.",
		}, []string{"reason"}),
		RewardsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_issued_total",
			Help:      "Rewards issued by tier.",
		}, []string{"tier"}),
		RewardPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_points_total",
			Help:      "Points credited through rewards.",
		}),
		StandingsRecomputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "standings_recomputed_total",
			Help:      "Ranking passes by finality.",
		}, []string{"final"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "competition_status_changes_total",
			Help:      "Competition lifecycle transitions.",
		}, []string{"to"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published on the bus.",
		}, []string{"type"}),
		EventHandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Duration of event handler executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		EventHandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Failed event handler executions.",
		}, []string{"type"}),

		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduler job runs by result.",
		}, []string{"job", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduler job duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"job"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.Assessments, c.PatternsTriggered, c.RestrictionsImposed, c.RestrictionsCleared,
		c.ParticipantsJoined, c.JoinRejections, c.RewardsIssued, c.RewardPoints,
		c.StandingsRecomputed, c.StatusChanges,
		c.EventsPublished, c.EventHandlerDuration, c.EventHandlerFailures,
		c.JobRuns, c.JobDuration,
		c.HTTPRequests, c.HTTPRequestDuration,
	)
	return c
}

// ═══════════════════════════════════════════════════════════════════════════
// DOMAIN EVENTS
// ═══════════════════════════════════════════════════════════════════════════

// Subscribe records every domain event on the bus.
func (c *Collectors) Subscribe(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(c.HandleEvent)
}

// HandleEvent implements shared.EventHandler.
func (c *Collectors) HandleEvent(event shared.Event) error {
	switch e := event.(type) {
	case shared.SessionAssessedEvent:
		c.Assessments.WithLabelValues(e.RiskLevel, e.Outcome).Inc()
		for _, p := range e.Patterns {
			c.PatternsTriggered.WithLabelValues(p).Inc()
		}
	case shared.RestrictionImposedEvent:
		c.RestrictionsImposed.WithLabelValues(e.Kind).Inc()
	case shared.RestrictionClearedEvent:
		c.RestrictionsCleared.Inc()
	case shared.ParticipantJoinedEvent:
		c.ParticipantsJoined.Inc()
	case shared.RewardIssuedEvent:
		c.RewardsIssued.WithLabelValues(e.Tier).Inc()
		c.RewardPoints.Add(float64(e.Points))
	case shared.StandingsRecomputedEvent:
		c.StandingsRecomputed.WithLabelValues(strconv.FormatBool(e.Final)).Inc()
	case shared.CompetitionStatusChangedEvent:
		c.StatusChanges.WithLabelValues(e.To).Inc()
	}
	return nil
}

// JoinRejected records a refused join.
func (c *Collectors) JoinRejected(reason string) {
	c.JoinRejections.WithLabelValues(reason).Inc()
}

// ═══════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE OBSERVERS
// ═══════════════════════════════════════════════════════════════════════════

// EventPublished implements the event bus observer.
func (c *Collectors) EventPublished(t shared.EventType) {
	c.EventsPublished.WithLabelValues(string(t)).Inc()
}

// EventHandled implements the event bus observer.
func (c *Collectors) EventHandled(t shared.EventType, d time.Duration, err error) {
	c.EventHandlerDuration.WithLabelValues(string(t)).Observe(d.Seconds())
	if err != nil {
		c.EventHandlerFailures.WithLabelValues(string(t)).Inc()
	}
}

// JobFinished implements the scheduler observer.
func (c *Collectors) JobFinished(name string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.JobRuns.WithLabelValues(name, result).Inc()
	c.JobDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RequestServed records one HTTP request.
func (c *Collectors) RequestServed(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
