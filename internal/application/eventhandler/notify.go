// Package eventhandler contains domain event handlers. They react to
// committed state changes with side effects such as user notifications.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFIER
// The outbound notification collaborator. Delivery is best effort: a failed
// notification never undoes the state change that triggered it.
// ═══════════════════════════════════════════════════════════════════════════

// RestrictionNotice tells a user they were restricted.
type RestrictionNotice struct {
	UserID        string    `json:"user_id"`
	RestrictionID string    `json:"restriction_id"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// RewardNotice tells a user they earned a reward.
type RewardNotice struct {
	UserID        string `json:"user_id"`
	CompetitionID string `json:"competition_id"`
	Tier          string `json:"tier"`
	Rank          int    `json:"rank"`
	Points        int    `json:"points"`
	Badge         string `json:"badge,omitempty"`
}

// Notifier delivers notices to users.
type Notifier interface {
	NotifyRestriction(ctx context.Context, n RestrictionNotice) error
	NotifyReward(ctx context.Context, n RewardNotice) error
}

// NotifyConfig holds handler parameters.
type NotifyConfig struct {
	// Timeout bounds one delivery.
	Timeout time.Duration
}

// DefaultNotifyConfig returns default configuration.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{Timeout: 10 * time.Second}
}

// ═══════════════════════════════════════════════════════════════════════════
// HANDLERS
// ═══════════════════════════════════════════════════════════════════════════

// NotifyHandler forwards restriction and reward events to the notifier.
type NotifyHandler struct {
	notifier Notifier
	logger   *slog.Logger
	config   NotifyConfig
}

// NewNotifyHandler creates a new NotifyHandler.
func NewNotifyHandler(notifier Notifier, log *slog.Logger, config NotifyConfig) *NotifyHandler {
	if config.Timeout <= 0 {
		config = DefaultNotifyConfig()
	}
	return &NotifyHandler{
		notifier: notifier,
		logger:   logger.OrDefault(log).With("handler", "notify"),
		config:   config,
	}
}

// Register subscribes the handler to the events it serves.
func (h *NotifyHandler) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventRestrictionImposed, h.HandleRestrictionImposed); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventRewardIssued, h.HandleRewardIssued)
}

// HandleRestrictionImposed implements shared.EventHandler.
func (h *NotifyHandler) HandleRestrictionImposed(event shared.Event) error {
	e, ok := event.(shared.RestrictionImposedEvent)
	if !ok {
		h.logger.Warn("unexpected event", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	err := h.notifier.NotifyRestriction(ctx, RestrictionNotice{
		UserID:        e.UserID,
		RestrictionID: e.RestrictionID,
		Kind:          e.Kind,
		Reason:        e.Reason,
		ExpiresAt:     e.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("notify restriction for %s: %w", e.UserID, err)
	}
	return nil
}

// HandleRewardIssued implements shared.EventHandler.
func (h *NotifyHandler) HandleRewardIssued(event shared.Event) error {
	e, ok := event.(shared.RewardIssuedEvent)
	if !ok {
		h.logger.Warn("unexpected event", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	err := h.notifier.NotifyReward(ctx, RewardNotice{
		UserID:        e.UserID,
		CompetitionID: e.CompetitionID,
		Tier:          e.Tier,
		Rank:          e.Rank,
		Points:        e.Points,
		Badge:         e.Badge,
	})
	if err != nil {
		return fmt.Errorf("notify reward for %s: %w", e.UserID, err)
	}
	return nil
}
