package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY COMMANDS
// Policies are versioned and immutable once stored. An update stores the
// next version and swaps the active policy atomically; assessments already
// made keep the version they were decided under.
// ══════════════════════════════════════════════════════════════════════════════

// UpdatePolicyCommand replaces the active fraud policy.
type UpdatePolicyCommand struct {
	Policy   *trust.Policy
	Operator string
}

// Validate validates the command.
func (c UpdatePolicyCommand) Validate() error {
	if c.Policy == nil {
		return shared.NewDomainError("trust", "UpdatePolicy", shared.ErrEmptyValue, "policy is required")
	}
	if strings.TrimSpace(c.Operator) == "" {
		return shared.NewDomainError("trust", "UpdatePolicy", shared.ErrEmptyValue, "operator is required")
	}
	return nil
}

// UpdatePolicyHandler handles UpdatePolicyCommand.
type UpdatePolicyHandler struct {
	store  trust.PolicyStore
	holder *trust.PolicyHolder
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewUpdatePolicyHandler creates a new UpdatePolicyHandler.
func NewUpdatePolicyHandler(store trust.PolicyStore, holder *trust.PolicyHolder, clock timeutil.Clock, log *slog.Logger) *UpdatePolicyHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &UpdatePolicyHandler{
		store:  store,
		holder: holder,
		clock:  clock,
		logger: logger.OrDefault(log).With(logger.Component("update_policy")),
	}
}

// Handle validates the new policy, stores it as the next version and activates it.
// The version in the command is ignored.
func (h *UpdatePolicyHandler) Handle(ctx context.Context, cmd UpdatePolicyCommand) (*trust.Policy, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	current := h.holder.Current()
	next := cmd.Policy.Clone()
	next.Version = current.Version + 1
	next.UpdatedAt = h.clock.Now()
	next.UpdatedBy = cmd.Operator

	if err := next.Validate(); err != nil {
		return nil, shared.WrapError("trust", "UpdatePolicy", shared.ErrInvalidInput, "policy rejected", err)
	}
	if err := h.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("update_policy: save: %w", err)
	}
	if err := h.holder.Replace(next); err != nil {
		return nil, err
	}

	h.logger.Info("fraud policy updated",
		logger.PolicyVersion(next.Version), "previous_version", current.Version, "operator", cmd.Operator)
	return next.Clone(), nil
}

// BootstrapPolicy picks the policy to start with. The stored policy wins
// unless the file carries a newer version, in which case the file is stored.
func BootstrapPolicy(ctx context.Context, store trust.PolicyStore, file *trust.Policy) (*trust.Policy, error) {
	if file == nil {
		return nil, shared.ErrPolicyMissing
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}

	stored, err := store.Latest(ctx)
	switch {
	case errors.Is(err, shared.ErrPolicyMissing):
	case err != nil:
		return nil, fmt.Errorf("bootstrap policy: %w", err)
	case stored.Version >= file.Version:
		return stored, nil
	}

	if err := store.Save(ctx, file); err != nil {
		return nil, fmt.Errorf("bootstrap policy: save: %w", err)
	}
	return file.Clone(), nil
}
