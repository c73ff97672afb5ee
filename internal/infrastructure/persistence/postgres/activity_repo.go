package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RAW EVENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// EventRepository implements activity.EventRepository. Deduplication is the
// primary key on the event's dedupe key.
type EventRepository struct {
	conn *Connection
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(conn *Connection) *EventRepository {
	return &EventRepository{conn: conn}
}

// Append stores the event, or reports a duplicate.
func (r *EventRepository) Append(ctx context.Context, e *activity.RawEvent) (bool, error) {
	query := `
		INSERT INTO raw_activity_events (
			id, dedupe_key, user_id, activity_type, start_at, end_at,
			device_fingerprint, subject, questions, correct, payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dedupe_key) DO NOTHING
	`

	var payload []byte
	if len(e.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return false, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	tag, err := r.conn.Exec(ctx, query,
		e.ID,
		e.DedupeKey(),
		string(e.UserID),
		string(e.Type),
		e.Start.UTC(),
		e.End.UTC(),
		e.DeviceFingerprint,
		e.Subject,
		e.Questions,
		e.Correct,
		payload,
		e.ReceivedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to append activity event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns events starting in [from, to), ordered by start.
func (r *EventRepository) ListByUser(ctx context.Context, userID shared.UserID, from, to time.Time) ([]*activity.RawEvent, error) {
	query := `
		SELECT id, user_id, activity_type, start_at, end_at, device_fingerprint,
			   subject, questions, correct, payload, received_at
		FROM raw_activity_events
		WHERE user_id = $1 AND start_at >= $2 AND start_at < $3
		ORDER BY start_at, end_at
	`

	rows, err := r.conn.Query(ctx, query, string(userID), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list activity events: %w", err)
	}
	defer rows.Close()

	var out []*activity.RawEvent
	for rows.Next() {
		var (
			e       activity.RawEvent
			uid     string
			typ     string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &uid, &typ, &e.Start, &e.End, &e.DeviceFingerprint,
			&e.Subject, &e.Questions, &e.Correct, &payload, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		e.UserID = shared.UserID(uid)
		e.Type = activity.Type(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListUnsettledUsers returns users with unsettled events ending at or before the cutoff.
func (r *EventRepository) ListUnsettledUsers(ctx context.Context, before time.Time, limit int) ([]shared.UserID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM raw_activity_events
		WHERE NOT settled AND end_at <= $1
		ORDER BY user_id
		LIMIT NULLIF($2, 0)
	`

	rows, err := r.conn.Query(ctx, query, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan unsettled users: %w", err)
	}

	out := make([]shared.UserID, len(ids))
	for i, id := range ids {
		out[i] = shared.UserID(id)
	}
	return out, nil
}

// EarliestUnsettled returns the start of the user's oldest unsettled event.
func (r *EventRepository) EarliestUnsettled(ctx context.Context, userID shared.UserID) (time.Time, bool, error) {
	var earliest *time.Time
	err := r.conn.QueryRow(ctx, `
		SELECT min(start_at) FROM raw_activity_events
		WHERE user_id = $1 AND NOT settled
	`, string(userID)).Scan(&earliest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to find earliest unsettled event: %w", err)
	}
	if earliest == nil {
		return time.Time{}, false, nil
	}
	return earliest.UTC(), true, nil
}

// MarkSettled flags the user's events ending at or before upTo.
func (r *EventRepository) MarkSettled(ctx context.Context, userID shared.UserID, upTo time.Time) (int, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE raw_activity_events SET settled = TRUE
		WHERE user_id = $1 AND NOT settled AND end_at <= $2
	`, string(userID), upTo.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark events settled: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteOlderThan removes events that ended before the cutoff.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM raw_activity_events WHERE end_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements activity.SessionRepository.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

const sessionColumns = `id, user_id, session_type, start_at, end_at, subject, confidence,
	device, questions, correct, event_count, source, rules_version`

// Save stores a session. A second save of the same ID is ignored.
func (r *SessionRepository) Save(ctx context.Context, s *activity.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query,
		s.ID,
		string(s.UserID),
		string(s.Type),
		s.Start.UTC(),
		s.End.UTC(),
		s.Subject,
		s.Confidence,
		s.Device,
		s.Questions,
		s.Correct,
		s.EventCount,
		string(s.Source),
		s.RulesVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// FindOverlapping returns sessions sharing any instant with [start, end).
func (r *SessionRepository) FindOverlapping(ctx context.Context, userID shared.UserID, start, end time.Time) ([]*activity.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at
	`

	rows, err := r.conn.Query(ctx, query, string(userID), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping sessions: %w", err)
	}
	defer rows.Close()

	var out []*activity.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetByID returns a session or shared.ErrSessionNotFound.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*activity.Session, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if IsNoRows(err) {
		return nil, shared.ErrSessionNotFound
	}
	return s, err
}

func scanSession(row pgx.Row) (*activity.Session, error) {
	var (
		s      activity.Session
		uid    string
		typ    string
		source string
	)
	err := row.Scan(&s.ID, &uid, &typ, &s.Start, &s.End, &s.Subject, &s.Confidence,
		&s.Device, &s.Questions, &s.Correct, &s.EventCount, &source, &s.RulesVersion)
	if err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.UserID = shared.UserID(uid)
	s.Type = activity.Type(typ)
	s.Source = activity.Source(source)
	return &s, nil
}
