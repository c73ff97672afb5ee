// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
	"github.com/studyhub/league-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION PIPELINE
// Every session, auto-classified or manual, passes through here:
// overlap clipping -> restriction check -> assessment -> report increment
// -> restriction write-back.
// The per-user lock makes that sequence atomic for one user; different users
// never wait on each other.
// ══════════════════════════════════════════════════════════════════════════════

// UserLocker serializes work for one user.
type UserLocker interface {
	// Lock blocks until the user's lock is held. The returned func releases it.
	Lock(ctx context.Context, userID shared.UserID) (func(), error)
}

// SessionStatus is what happened to one session.
type SessionStatus string

const (
	SessionCounted  SessionStatus = "counted"
	SessionFlagged  SessionStatus = "flagged"
	SessionRejected SessionStatus = "rejected"
	// SessionBlocked means an active restriction stopped the session before assessment.
	SessionBlocked SessionStatus = "blocked"
	// SessionIgnored is used for break and idle sessions, which never count.
	SessionIgnored SessionStatus = "ignored"
	// SessionDuplicate is a manual session already stored or fully covered by stored time.
	SessionDuplicate SessionStatus = "duplicate"
)

func statusFor(o trust.Outcome) SessionStatus {
	switch o {
	case trust.OutcomeRejected:
		return SessionRejected
	case trust.OutcomeFlagged:
		return SessionFlagged
	default:
		return SessionCounted
	}
}

// SessionResult reports the fate of one session.
type SessionResult struct {
	SessionID     string          `json:"session_id"`
	Type          activity.Type   `json:"type"`
	Source        activity.Source `json:"source"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	Minutes       int             `json:"minutes"`
	Status        SessionStatus   `json:"status"`
	Risk          trust.RiskLevel `json:"risk_level,omitempty"`
	Score         int             `json:"score"`
	Patterns      []string        `json:"patterns,omitempty"`
	PolicyVersion int             `json:"policy_version,omitempty"`

	// Applied is true when the session was folded into a daily report by this call.
	Applied bool `json:"applied"`
}

// PipelineResult is the outcome of processing a batch for one user.
type PipelineResult struct {
	Sessions []SessionResult

	// Known counts sessions skipped because stored sessions already cover them.
	Known int

	// Clipped counts sessions cut down to the time no stored session covers.
	Clipped int

	// Active is the restriction in force after the batch, if any.
	Active *restriction.Restriction

	// Imposed is set when this batch triggered a new restriction.
	Imposed *restriction.Restriction

	cleared time.Time
}

// SessionPipelineDeps are the collaborators of the pipeline.
type SessionPipelineDeps struct {
	Sessions     activity.SessionRepository
	Assessments  trust.Repository
	Restrictions restriction.Repository
	Reports      report.Repository
	Policy       *trust.PolicyHolder
	Validator    *trust.Validator
	Locker       UserLocker
	Publisher    shared.EventPublisher
	Location     *time.Location
	Logger       *slog.Logger
}

// SessionPipeline validates sessions and folds the counted ones into reports.
type SessionPipeline struct {
	deps   SessionPipelineDeps
	logger *slog.Logger
}

// NewSessionPipeline creates the pipeline.
func NewSessionPipeline(deps SessionPipelineDeps) *SessionPipeline {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &SessionPipeline{
		deps:   deps,
		logger: logger.OrDefault(deps.Logger).With(logger.Component("session_pipeline")),
	}
}

// Process runs the sessions of one user through the pipeline in order.
// Each session is clipped to the time no stored session covers, so
// re-classifying a window or re-reporting tracked time never counts it twice.
func (p *SessionPipeline) Process(ctx context.Context, userID shared.UserID, sessions []*activity.Session, now time.Time) (*PipelineResult, error) {
	unlock, err := p.deps.Locker.Lock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session_pipeline: lock user: %w", err)
	}

	var events []shared.Event
	result, err := p.processLocked(ctx, userID, sessions, now, &events)
	unlock()

	// Events go out after the lock is released; handlers may be slow.
	for _, ev := range events {
		if pubErr := p.deps.Publisher.Publish(ev); pubErr != nil {
			p.logger.Warn("failed to publish event", "type", ev.EventType(), logger.Err(pubErr))
		}
	}
	return result, err
}

func (p *SessionPipeline) processLocked(ctx context.Context, userID shared.UserID, sessions []*activity.Session, now time.Time, events *[]shared.Event) (*PipelineResult, error) {
	policy := p.deps.Policy.Current()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	rs, err := p.deps.Restrictions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session_pipeline: load restrictions: %w", err)
	}
	result := &PipelineResult{Active: restriction.Latest(rs, now), cleared: restriction.LastCleared(rs)}

	history, err := p.history(ctx, userID, policy, now)
	if err != nil {
		return nil, err
	}

	for _, s := range sessions {
		if s.UserID != userID {
			return result, shared.NewDomainError("activity", "Process", shared.ErrInvalidInput, "session belongs to another user")
		}

		pieces, err := p.uncovered(ctx, s)
		if err != nil {
			return result, err
		}
		if len(pieces) == 0 {
			result.Known++
			if s.Source == activity.SourceManual {
				res := resultFor(s)
				res.Status = SessionDuplicate
				result.Sessions = append(result.Sessions, res)
			}
			continue
		}
		if len(pieces) > 1 || pieces[0] != s {
			result.Clipped++
		}

		for _, piece := range pieces {
			res, err := p.processOne(ctx, userID, piece, policy, &history, result, now, events)
			if err != nil {
				return result, err
			}
			result.Sessions = append(result.Sessions, res)
		}
	}
	return result, nil
}

// uncovered returns the parts of s that stored sessions do not cover.
// A manual session whose ID is already stored is a replay and yields nothing.
func (p *SessionPipeline) uncovered(ctx context.Context, s *activity.Session) ([]*activity.Session, error) {
	if s.Source == activity.SourceManual {
		_, err := p.deps.Sessions.GetByID(ctx, s.ID)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, shared.ErrSessionNotFound) {
			return nil, fmt.Errorf("session_pipeline: get session: %w", err)
		}
	}
	known, err := p.deps.Sessions.FindOverlapping(ctx, s.UserID, s.Start, s.End)
	if err != nil {
		return nil, fmt.Errorf("session_pipeline: find overlapping: %w", err)
	}
	return s.Uncovered(known), nil
}

func resultFor(s *activity.Session) SessionResult {
	return SessionResult{
		SessionID: s.ID,
		Type:      s.Type,
		Source:    s.Source,
		Start:     s.Start,
		End:       s.End,
		Minutes:   s.Minutes(),
	}
}

// processOne takes one uncovered session through restriction check,
// assessment and report increment.
func (p *SessionPipeline) processOne(
	ctx context.Context,
	userID shared.UserID,
	s *activity.Session,
	policy *trust.Policy,
	history *[]*activity.Session,
	result *PipelineResult,
	now time.Time,
	events *[]shared.Event,
) (SessionResult, error) {
	res := resultFor(s)

	// A lapsed restriction is renewed before the session is looked at while
	// the rolling window still holds enough high-risk assessments.
	if s.Type.Countable() && !restriction.IsActive(result.Active, now) {
		if err := p.enforceInto(ctx, userID, policy, result, now, events); err != nil {
			return res, err
		}
	}

	if !s.Type.Countable() || restriction.IsActive(result.Active, now) {
		res.Status = SessionIgnored
		if s.Type.Countable() {
			res.Status = SessionBlocked
		}
		// Manual sessions are refused outright; auto ones are kept so they are not re-derived.
		if s.Source == activity.SourceAuto {
			if err := p.deps.Sessions.Save(ctx, s); err != nil {
				return res, fmt.Errorf("session_pipeline: save session: %w", err)
			}
		}
		return res, nil
	}

	a, err := p.deps.Validator.Assess(policy, s, *history, now)
	if err != nil {
		return res, err
	}

	// Order matters for crash safety: the report apply and the assessment
	// are idempotent by ID, and the stored session marks completion.
	if a.Counts() {
		res.Applied, err = p.deps.Reports.Apply(ctx, report.FromSession(s, a.Outcome, p.deps.Location))
		if err != nil {
			return res, fmt.Errorf("session_pipeline: apply report: %w", err)
		}
	}
	if err := p.deps.Assessments.Append(ctx, a); err != nil {
		return res, fmt.Errorf("session_pipeline: append assessment: %w", err)
	}
	if err := p.deps.Sessions.Save(ctx, s); err != nil {
		return res, fmt.Errorf("session_pipeline: save session: %w", err)
	}
	*history = append(*history, s)

	res.Status = statusFor(a.Outcome)
	res.Risk = a.Risk
	res.Score = a.Score
	res.Patterns = a.PatternNames()
	res.PolicyVersion = a.PolicyVersion

	*events = append(*events, shared.NewSessionAssessedEvent(
		string(userID), s.ID, string(a.Risk), a.Score, string(a.Outcome), a.PatternNames(), a.PolicyVersion))

	if a.Risk.AtLeast(trust.RiskMedium) {
		p.logger.Info("session flagged",
			logger.UserID(string(userID)), logger.SessionID(s.ID),
			logger.Risk(string(a.Risk), a.Score), "patterns", a.PatternNames())
	}

	return res, p.enforceInto(ctx, userID, policy, result, now, events)
}

// enforceInto records a newly imposed restriction on the result.
func (p *SessionPipeline) enforceInto(ctx context.Context, userID shared.UserID, policy *trust.Policy, result *PipelineResult, now time.Time, events *[]shared.Event) error {
	imposed, err := p.enforce(ctx, userID, policy, result.Active, result.cleared, now)
	if err != nil || imposed == nil {
		return err
	}
	result.Active = imposed
	result.Imposed = imposed
	*events = append(*events, shared.NewRestrictionImposedEvent(
		imposed.ID, string(userID), string(imposed.Kind), imposed.Reason, imposed.ExpiresAt))
	return nil
}

// history returns snapshots of every session assessed in the lookback,
// rejected ones included, so repeated abuse stays visible.
func (p *SessionPipeline) history(ctx context.Context, userID shared.UserID, policy *trust.Policy, now time.Time) ([]*activity.Session, error) {
	assessed, err := p.deps.Assessments.ListByUser(ctx, userID, now.Add(-policy.History()))
	if err != nil {
		return nil, fmt.Errorf("session_pipeline: load history: %w", err)
	}
	out := make([]*activity.Session, 0, len(assessed))
	for _, a := range assessed {
		s := a.Session
		out = append(out, &s)
	}
	return out, nil
}

// enforce imposes a restriction when the rolling threshold is reached.
// Assessments decided before an operator cleared a restriction are ignored.
func (p *SessionPipeline) enforce(ctx context.Context, userID shared.UserID, policy *trust.Policy, active *restriction.Restriction, cleared, now time.Time) (*restriction.Restriction, error) {
	rule := policy.Restriction
	since := now.Add(-rule.Window)
	if cleared.After(since) {
		since = cleared
	}
	recent, err := p.deps.Assessments.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("session_pipeline: load recent assessments: %w", err)
	}

	d := restriction.Evaluate(rule, recent, active, now)
	if !d.Restrict {
		return nil, nil
	}

	r, err := restriction.New(userID, restriction.KindStudyLimit, d.Reason, restriction.SystemActor, now, rule.Duration)
	if err != nil {
		return nil, err
	}
	if err := p.deps.Restrictions.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("session_pipeline: save restriction: %w", err)
	}

	p.logger.Warn("restriction imposed",
		logger.UserID(string(userID)), "restriction_id", r.ID,
		"high_risk_sessions", d.HighCount, "expires_at", r.ExpiresAt)
	return r, nil
}
