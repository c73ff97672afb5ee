package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESTRICTION HOUSEKEEPING JOB
// ══════════════════════════════════════════════════════════════════════════════

// RestrictionHousekeeper purges restrictions that ended long ago.
type RestrictionHousekeeper interface {
	Housekeep(ctx context.Context, retention time.Duration) (int, error)
}

// RestrictionHousekeepingJob deletes restrictions past their retention.
type RestrictionHousekeepingJob struct {
	housekeeper RestrictionHousekeeper
	retention   time.Duration
}

// NewRestrictionHousekeepingJob creates a new RestrictionHousekeepingJob.
func NewRestrictionHousekeepingJob(h RestrictionHousekeeper, retention time.Duration) *RestrictionHousekeepingJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RestrictionHousekeepingJob{housekeeper: h, retention: retention}
}

func (j *RestrictionHousekeepingJob) Name() string { return "restriction_housekeeping" }

func (j *RestrictionHousekeepingJob) Description() string {
	return fmt.Sprintf("Delete restrictions that ended more than %s ago", j.retention)
}

func (j *RestrictionHousekeepingJob) Run(ctx context.Context) error {
	_, err := j.housekeeper.Housekeep(ctx, j.retention)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT RETENTION JOB
// ══════════════════════════════════════════════════════════════════════════════

// EventPurger deletes raw activity events older than a cutoff.
type EventPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// EventRetentionJob trims the raw event audit trail. Sessions, assessments
// and reports derived from the events are kept.
type EventRetentionJob struct {
	events    EventPurger
	retention time.Duration
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewEventRetentionJob creates a new EventRetentionJob.
func NewEventRetentionJob(events EventPurger, retention time.Duration, clock timeutil.Clock, log *slog.Logger) *EventRetentionJob {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &EventRetentionJob{
		events:    events,
		retention: retention,
		clock:     clock,
		logger:    logger.OrDefault(log).With(logger.Component("job.event_retention")),
	}
}

func (j *EventRetentionJob) Name() string { return "event_retention" }

func (j *EventRetentionJob) Description() string {
	return fmt.Sprintf("Delete raw activity events older than %s", j.retention)
}

func (j *EventRetentionJob) Run(ctx context.Context) error {
	n, err := j.events.DeleteOlderThan(ctx, j.clock.Now().Add(-j.retention))
	if err != nil {
		return fmt.Errorf("event retention: %w", err)
	}
	if n > 0 {
		j.logger.Info("raw events purged", "count", n)
	}
	return nil
}
