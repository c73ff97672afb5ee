package activity

import (
	"context"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// EventRepository defines persistence for raw activity events.
// This interface is implemented by the infrastructure layer.
type EventRepository interface {
	// Append stores an event unless one with the same dedupe key exists.
	// Returns false for a duplicate.
	Append(ctx context.Context, event *RawEvent) (bool, error)

	// ListByUser returns a user's events whose start falls in [from, to), ordered by start.
	ListByUser(ctx context.Context, userID shared.UserID, from, to time.Time) ([]*RawEvent, error)

	// ListUnsettledUsers returns users that have unsettled events ending before the cutoff.
	ListUnsettledUsers(ctx context.Context, before time.Time, limit int) ([]shared.UserID, error)

	// EarliestUnsettled returns the start of the user's oldest unsettled event.
	// The bool is false when every event is settled.
	EarliestUnsettled(ctx context.Context, userID shared.UserID) (time.Time, bool, error)

	// MarkSettled marks a user's events ending at or before upTo as settled.
	MarkSettled(ctx context.Context, userID shared.UserID, upTo time.Time) (int, error)

	// DeleteOlderThan removes events past the audit retention window.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionRepository defines persistence for derived sessions.
type SessionRepository interface {
	// Save stores a session. Saving an existing ID is a no-op.
	Save(ctx context.Context, session *Session) error

	// FindOverlapping returns the user's sessions that share any instant with [start, end).
	FindOverlapping(ctx context.Context, userID shared.UserID, start, end time.Time) ([]*Session, error)

	// GetByID returns a session by its ID.
	GetByID(ctx context.Context, id string) (*Session, error)
}
