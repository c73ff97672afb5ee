package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT ACTIVITY COMMAND
// Accepts a batch of raw events from a capture device, stores the new ones
// and settles the user's lookback window right away.
// ══════════════════════════════════════════════════════════════════════════════

// MaxEventsPerSubmission caps one batch.
const MaxEventsPerSubmission = 500

// EventStatus is the per-event outcome of a submission.
type EventStatus string

const (
	EventAccepted  EventStatus = "accepted"
	EventDuplicate EventStatus = "duplicate"
	EventMalformed EventStatus = "malformed"
)

// SubmitActivityCommand contains a batch of events of one user.
type SubmitActivityCommand struct {
	UserID shared.UserID
	Events []*activity.RawEvent
}

// Validate validates the command.
func (c SubmitActivityCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.NewDomainError("activity", "Submit", shared.ErrInvalidID, "invalid user ID")
	}
	if len(c.Events) == 0 {
		return shared.NewDomainError("activity", "Submit", shared.ErrEmptyValue, "no events submitted")
	}
	if len(c.Events) > MaxEventsPerSubmission {
		return shared.NewDomainError("activity", "Submit", shared.ErrValueOutOfRange,
			fmt.Sprintf("at most %d events per submission", MaxEventsPerSubmission))
	}
	return nil
}

// EventOutcome is the status of one submitted event, in input order.
type EventOutcome struct {
	Index  int         `json:"index"`
	ID     string      `json:"id,omitempty"`
	Status EventStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// SubmitActivityResult contains the result of a submission.
type SubmitActivityResult struct {
	Events     []EventOutcome  `json:"events"`
	Sessions   []SessionResult `json:"sessions"`
	Accepted   int             `json:"accepted"`
	Duplicates int             `json:"duplicates"`
	Malformed  int             `json:"malformed"`

	// Pending counts spans still open; they settle on a later pass.
	Pending int `json:"pending"`

	RestrictedUntil *time.Time `json:"restricted_until,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitActivityHandler handles SubmitActivityCommand.
type SubmitActivityHandler struct {
	events       activity.EventRepository
	restrictions restriction.Repository
	settler      *SessionSettler
	clock        timeutil.Clock
	logger       *slog.Logger
}

// NewSubmitActivityHandler creates a new SubmitActivityHandler.
func NewSubmitActivityHandler(
	events activity.EventRepository,
	restrictions restriction.Repository,
	settler *SessionSettler,
	clock timeutil.Clock,
	log *slog.Logger,
) *SubmitActivityHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &SubmitActivityHandler{
		events:       events,
		restrictions: restrictions,
		settler:      settler,
		clock:        clock,
		logger:       logger.OrDefault(log).With(logger.Component("submit_activity")),
	}
}

// Handle stores the events and settles the user. Malformed events are
// reported individually and never fail the batch.
func (h *SubmitActivityHandler) Handle(ctx context.Context, cmd SubmitActivityCommand) (*SubmitActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	result := &SubmitActivityResult{
		Events: make([]EventOutcome, 0, len(cmd.Events)),
	}

	for i, in := range cmd.Events {
		out := EventOutcome{Index: i}
		if in == nil {
			out.Status = EventMalformed
			out.Error = "empty event"
			result.Malformed++
			result.Events = append(result.Events, out)
			continue
		}

		ev := *in
		ev.UserID = cmd.UserID
		ev.ReceivedAt = now
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		out.ID = ev.ID

		if err := ev.Validate(now); err != nil {
			out.Status = EventMalformed
			out.Error = err.Error()
			result.Malformed++
			result.Events = append(result.Events, out)
			continue
		}

		inserted, err := h.events.Append(ctx, &ev)
		if err != nil {
			return nil, fmt.Errorf("submit_activity: append event: %w", err)
		}
		if inserted {
			out.Status = EventAccepted
			result.Accepted++
		} else {
			out.Status = EventDuplicate
			result.Duplicates++
		}
		result.Events = append(result.Events, out)
	}

	settled, err := h.settler.Settle(ctx, cmd.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("submit_activity: settle: %w", err)
	}
	result.Sessions = settled.Sessions
	result.Pending = settled.Pending

	active, err := h.activeRestriction(ctx, cmd.UserID, settled, now)
	if err != nil {
		return nil, err
	}
	if active != nil {
		until := active.ExpiresAt
		result.RestrictedUntil = &until
	}

	h.logger.Debug("activity submitted",
		logger.UserID(string(cmd.UserID)),
		"accepted", result.Accepted,
		"duplicates", result.Duplicates,
		"malformed", result.Malformed,
		"sessions", len(result.Sessions))

	return result, nil
}

func (h *SubmitActivityHandler) activeRestriction(ctx context.Context, userID shared.UserID, settled *SettleResult, now time.Time) (*restriction.Restriction, error) {
	if settled.Pipeline != nil {
		return settled.Pipeline.Active, nil
	}
	rs, err := h.restrictions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("submit_activity: load restrictions: %w", err)
	}
	return restriction.Latest(rs, now), nil
}
