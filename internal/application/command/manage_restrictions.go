package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESTRICTION ADMIN COMMANDS
// Operators may impose a restriction by hand or lift one early. Lifting
// never deletes the row; the audit trail stays.
// ══════════════════════════════════════════════════════════════════════════════

// MaxOperatorRestriction bounds a manual restriction.
const MaxOperatorRestriction = 90 * 24 * time.Hour

// ImposeRestrictionCommand imposes an operator restriction.
type ImposeRestrictionCommand struct {
	UserID   shared.UserID
	Reason   string
	Duration time.Duration
	Operator string
}

// Validate validates the command.
func (c ImposeRestrictionCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.NewDomainError("restriction", "Impose", shared.ErrInvalidID, "invalid user ID")
	}
	if strings.TrimSpace(c.Reason) == "" {
		return shared.NewDomainError("restriction", "Impose", shared.ErrEmptyValue, "reason is required")
	}
	if c.Duration <= 0 || c.Duration > MaxOperatorRestriction {
		return shared.NewDomainError("restriction", "Impose", shared.ErrValueOutOfRange,
			fmt.Sprintf("duration must be between 0 and %s", MaxOperatorRestriction))
	}
	if strings.TrimSpace(c.Operator) == "" {
		return shared.NewDomainError("restriction", "Impose", shared.ErrEmptyValue, "operator is required")
	}
	return nil
}

// ClearRestrictionCommand lifts a restriction early.
type ClearRestrictionCommand struct {
	RestrictionID string
	Operator      string
}

// Validate validates the command.
func (c ClearRestrictionCommand) Validate() error {
	if strings.TrimSpace(c.RestrictionID) == "" {
		return shared.NewDomainError("restriction", "Clear", shared.ErrInvalidID, "restriction ID is required")
	}
	if strings.TrimSpace(c.Operator) == "" {
		return shared.NewDomainError("restriction", "Clear", shared.ErrEmptyValue, "operator is required")
	}
	return nil
}

// RestrictionAdminHandler handles the restriction admin commands.
type RestrictionAdminHandler struct {
	restrictions restriction.Repository
	locker       UserLocker
	publisher    shared.EventPublisher
	clock        timeutil.Clock
	logger       *slog.Logger
}

// NewRestrictionAdminHandler creates a new RestrictionAdminHandler.
func NewRestrictionAdminHandler(
	restrictions restriction.Repository,
	locker UserLocker,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *RestrictionAdminHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &RestrictionAdminHandler{
		restrictions: restrictions,
		locker:       locker,
		publisher:    publisher,
		clock:        clock,
		logger:       logger.OrDefault(log).With(logger.Component("restriction_admin")),
	}
}

// Impose creates an operator restriction. It takes the user's pipeline lock
// so it never interleaves with an assessment of the same user.
func (h *RestrictionAdminHandler) Impose(ctx context.Context, cmd ImposeRestrictionCommand) (*restriction.Restriction, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	unlock, err := h.locker.Lock(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("impose_restriction: lock user: %w", err)
	}
	defer unlock()

	r, err := restriction.New(cmd.UserID, restriction.KindOperator, cmd.Reason, cmd.Operator, h.clock.Now(), cmd.Duration)
	if err != nil {
		return nil, shared.WrapError("restriction", "Impose", shared.ErrInvalidInput, err.Error(), err)
	}
	if err := h.restrictions.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("impose_restriction: %w", err)
	}

	if err := h.publisher.Publish(shared.NewRestrictionImposedEvent(
		r.ID, string(r.UserID), string(r.Kind), r.Reason, r.ExpiresAt)); err != nil {
		h.logger.Warn("failed to publish restriction imposed", logger.Err(err))
	}
	h.logger.Info("operator restriction imposed",
		logger.UserID(string(r.UserID)), "restriction_id", r.ID, "operator", cmd.Operator, "expires_at", r.ExpiresAt)
	return r, nil
}

// Clear lifts a restriction. Clearing an already cleared restriction fails
// with shared.ErrAlreadyProcessed.
func (h *RestrictionAdminHandler) Clear(ctx context.Context, cmd ClearRestrictionCommand) (*restriction.Restriction, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	r, err := h.restrictions.GetByID(ctx, cmd.RestrictionID)
	if err != nil {
		return nil, err
	}

	unlock, err := h.locker.Lock(ctx, r.UserID)
	if err != nil {
		return nil, fmt.Errorf("clear_restriction: lock user: %w", err)
	}
	defer unlock()

	if err := r.Clear(cmd.Operator, h.clock.Now()); err != nil {
		return nil, shared.WrapError("restriction", "Clear", shared.ErrAlreadyProcessed, err.Error(), err)
	}
	if err := h.restrictions.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("clear_restriction: %w", err)
	}

	if err := h.publisher.Publish(shared.NewRestrictionClearedEvent(r.ID, string(r.UserID), cmd.Operator)); err != nil {
		h.logger.Warn("failed to publish restriction cleared", logger.Err(err))
	}
	h.logger.Info("restriction cleared",
		logger.UserID(string(r.UserID)), "restriction_id", r.ID, "operator", cmd.Operator)
	return r, nil
}

// Housekeep deletes restrictions that expired or were cleared before the cutoff.
func (h *RestrictionAdminHandler) Housekeep(ctx context.Context, retention time.Duration) (int, error) {
	n, err := h.restrictions.DeleteExpiredBefore(ctx, h.clock.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("restriction housekeeping: %w", err)
	}
	if n > 0 {
		h.logger.Info("expired restrictions purged", "count", n)
	}
	return n, nil
}
