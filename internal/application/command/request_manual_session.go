package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST MANUAL SESSION COMMAND
// A user reports a finished study block by hand ("studied 45 minutes,
// answered 20 questions"). It goes through the same validator pipeline
// as classified sessions.
// ══════════════════════════════════════════════════════════════════════════════

// MaxManualMinutes bounds a single manual report.
const MaxManualMinutes = 24 * 60

// MaxIdempotencyKeyLength bounds the client supplied key.
const MaxIdempotencyKeyLength = 128

// RequestManualSessionCommand contains the reported block.
type RequestManualSessionCommand struct {
	UserID shared.UserID
	// IdempotencyKey identifies the report across client retries. Optional.
	IdempotencyKey string

	Minutes   int
	Questions int
	Correct   int
	Subject   string
}

// Validate validates the command.
func (c RequestManualSessionCommand) Validate() error {
	if len(c.IdempotencyKey) > MaxIdempotencyKeyLength {
		return shared.NewDomainError("activity", "RequestManualSession", shared.ErrValueOutOfRange,
			fmt.Sprintf("idempotency key must not exceed %d characters", MaxIdempotencyKeyLength))
	}
	if c.Minutes > MaxManualMinutes {
		return shared.NewDomainError("activity", "RequestManualSession", shared.ErrValueOutOfRange,
			fmt.Sprintf("minutes must not exceed %d", MaxManualMinutes))
	}
	return nil
}

// RequestManualSessionResult contains the assessed session. When stored
// sessions cover part of the reported block, only the rest is assessed and
// Parts lists every uncovered piece; Session is the first of them.
type RequestManualSessionResult struct {
	Session SessionResult   `json:"session"`
	Parts   []SessionResult `json:"parts,omitempty"`
}

// Duplicate reports whether nothing new was recorded: the report was a
// retry or stored sessions already cover the whole block.
func (r *RequestManualSessionResult) Duplicate() bool {
	return r.Session.Status == SessionDuplicate
}

// RequestManualSessionHandler handles RequestManualSessionCommand.
type RequestManualSessionHandler struct {
	pipeline *SessionPipeline
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewRequestManualSessionHandler creates a new RequestManualSessionHandler.
func NewRequestManualSessionHandler(pipeline *SessionPipeline, clock timeutil.Clock, log *slog.Logger) *RequestManualSessionHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &RequestManualSessionHandler{
		pipeline: pipeline,
		clock:    clock,
		logger:   logger.OrDefault(log).With(logger.Component("manual_session")),
	}
}

// Handle assesses the manual session. A restricted user gets a
// *restriction.ActiveError and nothing is stored. Replays return the
// SessionDuplicate status.
func (h *RequestManualSessionHandler) Handle(ctx context.Context, cmd RequestManualSessionCommand) (*RequestManualSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	s, err := activity.NewManualSession(cmd.UserID, cmd.IdempotencyKey, cmd.Minutes, cmd.Questions, cmd.Correct, cmd.Subject, now)
	if err != nil {
		return nil, err
	}

	pr, err := h.pipeline.Process(ctx, cmd.UserID, []*activity.Session{s}, now)
	if err != nil {
		return nil, err
	}
	if len(pr.Sessions) == 0 {
		return nil, errors.New("request_manual_session: pipeline returned no outcome")
	}

	res := pr.Sessions[0]
	if res.Status == SessionBlocked && pr.Active != nil {
		return nil, &restriction.ActiveError{
			UserID:    cmd.UserID,
			Reason:    pr.Active.Reason,
			ExpiresAt: pr.Active.ExpiresAt,
		}
	}

	h.logger.Info("manual session assessed",
		logger.UserID(string(cmd.UserID)),
		logger.SessionID(res.SessionID),
		"status", res.Status,
		"minutes", res.Minutes,
		"parts", len(pr.Sessions))

	out := &RequestManualSessionResult{Session: res}
	if len(pr.Sessions) > 1 {
		out.Parts = pr.Sessions
	}
	return out, nil
}
