package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTLE SESSIONS
// Re-classifies a user's lookback window and pushes every closed span
// through the pipeline. A span is closed once no new event can merge
// into it: it ended more than MergeGap ago. The window reaches back to
// the oldest unsettled event, so late arrivals are classified before
// they are marked settled.
// ══════════════════════════════════════════════════════════════════════════════

// SettlerConfig holds settler parameters.
type SettlerConfig struct {
	// Lookback is how far back events are re-classified.
	Lookback time.Duration

	// BatchSize limits how many users one SettleDue call handles.
	BatchSize int
}

// DefaultSettlerConfig returns default configuration.
func DefaultSettlerConfig() SettlerConfig {
	return SettlerConfig{
		Lookback:  24 * time.Hour,
		BatchSize: 200,
	}
}

// SettleResult is the outcome of settling one user.
type SettleResult struct {
	UserID      shared.UserID
	Sessions    []SessionResult
	Known       int
	Dropped     int
	Noise       int
	Pending     int
	Pipeline    *PipelineResult
	SettledUpTo time.Time
}

// SessionSettler derives sessions from stored events.
type SessionSettler struct {
	events     activity.EventRepository
	classifier *activity.Classifier
	pipeline   *SessionPipeline
	config     SettlerConfig
	logger     *slog.Logger
}

// NewSessionSettler creates a new settler.
func NewSessionSettler(
	events activity.EventRepository,
	classifier *activity.Classifier,
	pipeline *SessionPipeline,
	config SettlerConfig,
	log *slog.Logger,
) *SessionSettler {
	def := DefaultSettlerConfig()
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	// The window must at least cover a span still able to merge.
	if gap := classifier.Config().MergeGap; config.Lookback < gap {
		config.Lookback = gap
	}
	return &SessionSettler{
		events:     events,
		classifier: classifier,
		pipeline:   pipeline,
		config:     config,
		logger:     logger.OrDefault(log).With(logger.Component("session_settler")),
	}
}

// Settle classifies the user's recent events and processes closed sessions.
func (s *SessionSettler) Settle(ctx context.Context, userID shared.UserID, now time.Time) (*SettleResult, error) {
	cutoff := now.Add(-s.classifier.Config().MergeGap)

	from, err := s.windowStart(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	// Events may legitimately end slightly in the future because of device clock skew.
	evs, err := s.events.ListByUser(ctx, userID, from, now.Add(time.Hour))
	if err != nil {
		return nil, fmt.Errorf("settle: list events: %w", err)
	}

	cls := s.classifier.Classify(userID, evs)

	closed := make([]*activity.Session, 0, len(cls.Sessions))
	pending := 0
	for _, sess := range cls.Sessions {
		if !sess.End.Before(cutoff) {
			pending++
			continue
		}
		closed = append(closed, sess)
	}

	result := &SettleResult{
		UserID:      userID,
		Dropped:     cls.Dropped,
		Noise:       cls.Noise,
		Pending:     pending,
		SettledUpTo: cutoff,
	}

	if len(closed) > 0 {
		pr, err := s.pipeline.Process(ctx, userID, closed, now)
		if err != nil {
			return nil, err
		}
		result.Pipeline = pr
		result.Sessions = pr.Sessions
		result.Known = pr.Known
	}

	// Events of a still-open span end after the cutoff and stay unsettled,
	// which brings the user back on a later pass.
	if _, err := s.events.MarkSettled(ctx, userID, cutoff); err != nil {
		return nil, fmt.Errorf("settle: mark settled: %w", err)
	}
	return result, nil
}

// windowStart is the lookback start, moved back to the oldest unsettled
// event and one merge gap before it so the event can join a stored span.
func (s *SessionSettler) windowStart(ctx context.Context, userID shared.UserID, now time.Time) (time.Time, error) {
	from := now.Add(-s.config.Lookback)
	earliest, ok, err := s.events.EarliestUnsettled(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("settle: earliest unsettled: %w", err)
	}
	if ok {
		if late := earliest.Add(-s.classifier.Config().MergeGap); late.Before(from) {
			from = late
		}
	}
	return from, nil
}

// SettleDue settles every user holding unsettled events that are old enough
// to be closed. Failures for one user are logged and do not stop the batch.
func (s *SessionSettler) SettleDue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.classifier.Config().MergeGap)
	users, err := s.events.ListUnsettledUsers(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("settle: list unsettled users: %w", err)
	}

	settled := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if _, err := s.Settle(ctx, userID, now); err != nil {
			s.logger.Error("failed to settle user", logger.UserID(string(userID)), logger.Err(err))
			continue
		}
		settled++
	}
	return settled, nil
}
