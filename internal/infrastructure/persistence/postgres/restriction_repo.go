package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// RestrictionRepository implements restriction.Repository.
type RestrictionRepository struct {
	conn *Connection
}

// NewRestrictionRepository creates a new RestrictionRepository.
func NewRestrictionRepository(conn *Connection) *RestrictionRepository {
	return &RestrictionRepository{conn: conn}
}

const restrictionColumns = `id, user_id, kind, reason, created_by, created_at, expires_at, cleared_at, cleared_by`

// Save creates a restriction or updates its mutable fields.
func (r *RestrictionRepository) Save(ctx context.Context, res *restriction.Restriction) error {
	query := `
		INSERT INTO restrictions (` + restrictionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at,
			cleared_at = EXCLUDED.cleared_at,
			cleared_by = EXCLUDED.cleared_by
	`

	var clearedAt *time.Time
	if res.ClearedAt != nil {
		t := res.ClearedAt.UTC()
		clearedAt = &t
	}

	_, err := r.conn.Exec(ctx, query,
		res.ID,
		string(res.UserID),
		string(res.Kind),
		res.Reason,
		res.CreatedBy,
		res.CreatedAt.UTC(),
		res.ExpiresAt.UTC(),
		clearedAt,
		res.ClearedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save restriction: %w", err)
	}
	return nil
}

// GetByID returns a restriction or shared.ErrRestrictionNotFound.
func (r *RestrictionRepository) GetByID(ctx context.Context, id string) (*restriction.Restriction, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+restrictionColumns+` FROM restrictions WHERE id = $1`, id)
	res, err := scanRestriction(row)
	if IsNoRows(err) {
		return nil, shared.ErrRestrictionNotFound
	}
	return res, err
}

// ListByUser returns the user's restrictions, newest first.
func (r *RestrictionRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]*restriction.Restriction, error) {
	return r.list(ctx, `
		SELECT `+restrictionColumns+` FROM restrictions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, string(userID))
}

// ListActive returns restrictions active at now, newest first.
func (r *RestrictionRepository) ListActive(ctx context.Context, now time.Time, limit int) ([]*restriction.Restriction, error) {
	return r.list(ctx, `
		SELECT `+restrictionColumns+` FROM restrictions
		WHERE cleared_at IS NULL AND expires_at > $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2, 0)
	`, now.UTC(), limit)
}

// DeleteExpiredBefore removes restrictions expired or cleared before cutoff.
func (r *RestrictionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM restrictions
		WHERE expires_at < $1 OR (cleared_at IS NOT NULL AND cleared_at < $1)
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired restrictions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RestrictionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*restriction.Restriction, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	defer rows.Close()

	var out []*restriction.Restriction
	for rows.Next() {
		res, err := scanRestriction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanRestriction(row pgx.Row) (*restriction.Restriction, error) {
	var (
		res  restriction.Restriction
		uid  string
		kind string
	)
	err := row.Scan(&res.ID, &uid, &kind, &res.Reason, &res.CreatedBy,
		&res.CreatedAt, &res.ExpiresAt, &res.ClearedAt, &res.ClearedBy)
	if err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan restriction: %w", err)
	}
	res.UserID = shared.UserID(uid)
	res.Kind = restriction.Kind(kind)
	return &res, nil
}
