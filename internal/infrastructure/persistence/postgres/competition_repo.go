package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPETITION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CompetitionRepository implements competition.Repository.
type CompetitionRepository struct {
	conn *Connection
}

// NewCompetitionRepository creates a new CompetitionRepository.
func NewCompetitionRepository(conn *Connection) *CompetitionRepository {
	return &CompetitionRepository{conn: conn}
}

const competitionColumns = `id, name, competition_type, tier, start_at, end_at, capacity,
	entry_points, rewards, private, creator_id, invite_hash, status, created_at`

// Create stores a new competition.
func (r *CompetitionRepository) Create(ctx context.Context, c *competition.Competition) error {
	rewards, err := json.Marshal(c.Rewards)
	if err != nil {
		return fmt.Errorf("failed to marshal rewards: %w", err)
	}
	var inviteHash *string
	if c.InviteHash != "" {
		inviteHash = &c.InviteHash
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO competitions (`+competitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		c.ID,
		c.Name,
		string(c.Type),
		string(c.Tier),
		c.Start.UTC(),
		c.End.UTC(),
		c.Capacity,
		c.EntryPoints,
		rewards,
		c.Private,
		string(c.CreatorID),
		inviteHash,
		string(c.Status),
		c.CreatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("competition", "Create", shared.ErrAlreadyExists, "competition already exists", err)
		}
		return fmt.Errorf("failed to create competition: %w", err)
	}
	return nil
}

// GetByID returns a competition or shared.ErrCompetitionNotFound.
func (r *CompetitionRepository) GetByID(ctx context.Context, id string) (*competition.Competition, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+competitionColumns+` FROM competitions WHERE id = $1`, id)
	c, err := scanCompetition(row)
	if IsNoRows(err) {
		return nil, shared.ErrCompetitionNotFound
	}
	return c, err
}

// UpdateStatus is a compare-and-set on the stored status.
func (r *CompetitionRepository) UpdateStatus(ctx context.Context, id string, from, to competition.Status) error {
	if !competition.CanTransition(from, to) {
		return shared.WrapError("competition", "UpdateStatus", shared.ErrInvalidTransition,
			string(from)+" -> "+string(to), nil)
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE competitions SET status = $3 WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to update competition status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return shared.WrapError("competition", "UpdateStatus", shared.ErrInvalidTransition,
		"stored status is not "+string(from), nil)
}

// ListDue returns competitions whose stored status lags the clock.
func (r *CompetitionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*competition.Competition, error) {
	return r.list(ctx, `
		SELECT `+competitionColumns+` FROM competitions
		WHERE (status = 'scheduled' AND start_at <= $1)
		   OR (status = 'open' AND end_at <= $1)
		   OR status = 'closed'
		ORDER BY end_at, id
		LIMIT NULLIF($2, 0)
	`, now.UTC(), limit)
}

// ListOpen returns competitions whose window contains now.
func (r *CompetitionRepository) ListOpen(ctx context.Context, now time.Time) ([]*competition.Competition, error) {
	return r.list(ctx, `
		SELECT `+competitionColumns+` FROM competitions
		WHERE status <> 'rewarded' AND start_at <= $1 AND end_at > $1
		ORDER BY id
	`, now.UTC())
}

func (r *CompetitionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*competition.Competition, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	defer rows.Close()

	var out []*competition.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCompetition(row pgx.Row) (*competition.Competition, error) {
	var (
		c          competition.Competition
		typ, tier  string
		status     string
		creator    string
		rewards    []byte
		inviteHash *string
	)
	err := row.Scan(&c.ID, &c.Name, &typ, &tier, &c.Start, &c.End, &c.Capacity,
		&c.EntryPoints, &rewards, &c.Private, &creator, &inviteHash, &status, &c.CreatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan competition: %w", err)
	}
	c.Type = competition.Type(typ)
	c.Tier = competition.Tier(tier)
	c.Status = competition.Status(status)
	c.CreatorID = shared.UserID(creator)
	if inviteHash != nil {
		c.InviteHash = *inviteHash
	}
	if err := json.Unmarshal(rewards, &c.Rewards); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rewards: %w", err)
	}
	return &c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTICIPANTS
// ══════════════════════════════════════════════════════════════════════════════

// Join locks the competition row, runs the gate and inserts the participant
// in one transaction, so capacity cannot be overshot by concurrent joins.
func (r *CompetitionRepository) Join(ctx context.Context, competitionID string, userID shared.UserID, check func(c *competition.Competition, count int, joined bool) error, now time.Time) (*competition.Participant, error) {
	var p *competition.Participant
	var rejected error

	err := r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		p, rejected = nil, nil

		row := tx.QueryRow(ctx, `SELECT `+competitionColumns+` FROM competitions WHERE id = $1 FOR UPDATE`, competitionID)
		c, err := scanCompetition(row)
		if err != nil {
			if IsNoRows(err) {
				rejected = shared.ErrCompetitionNotFound
				return nil
			}
			return err
		}

		var count int
		var joined bool
		err = tx.QueryRow(ctx, `
			SELECT count(*), COALESCE(bool_or(user_id = $2), FALSE)
			FROM participants WHERE competition_id = $1
		`, competitionID, string(userID)).Scan(&count, &joined)
		if err != nil {
			return err
		}

		if err := check(c, count, joined); err != nil {
			rejected = err
			return nil
		}

		p = competition.NewParticipant(competitionID, userID, now)
		_, err = tx.Exec(ctx, `
			INSERT INTO participants (competition_id, user_id, joined_at, updated_at)
			VALUES ($1, $2, $3, $3)
		`, competitionID, string(userID), now.UTC())
		if IsUniqueViolation(err) {
			rejected = shared.ErrAlreadyJoined
			p = nil
			return errRollback
		}
		return err
	})
	if err != nil && !errors.Is(err, errRollback) {
		return nil, fmt.Errorf("failed to join competition: %w", err)
	}
	if rejected != nil {
		return nil, rejected
	}
	return p, nil
}

// errRollback aborts a transaction without reporting a failure.
var errRollback = errors.New("rollback")

const participantColumns = `competition_id, user_id, points, rank, minutes, tests, accuracy,
	streak, joined_at, frozen, updated_at`

// ListParticipants returns ranked participants first, then unranked by join time.
func (r *CompetitionRepository) ListParticipants(ctx context.Context, competitionID string) ([]*competition.Participant, error) {
	if _, err := r.GetByID(ctx, competitionID); err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, `
		SELECT `+participantColumns+` FROM participants
		WHERE competition_id = $1
		ORDER BY (rank = 0), rank, joined_at, user_id
	`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []*competition.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetParticipant returns one participant or shared.ErrParticipantNotFound.
func (r *CompetitionRepository) GetParticipant(ctx context.Context, competitionID string, userID shared.UserID) (*competition.Participant, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+participantColumns+` FROM participants
		WHERE competition_id = $1 AND user_id = $2
	`, competitionID, string(userID))

	p, err := scanParticipant(row)
	if IsNoRows(err) {
		return nil, shared.ErrParticipantNotFound
	}
	return p, err
}

// CountParticipants returns the number of participants.
func (r *CompetitionRepository) CountParticipants(ctx context.Context, competitionID string) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `SELECT count(*) FROM participants WHERE competition_id = $1`, competitionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return n, nil
}

// SaveStandings writes one ranking pass. Frozen rows are never touched.
func (r *CompetitionRepository) SaveStandings(ctx context.Context, competitionID string, standings []*competition.Participant, freeze bool) error {
	err := r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// Serializes with joins on the same competition.
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM competitions WHERE id = $1 FOR UPDATE`, competitionID).Scan(&id); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, s := range standings {
			batch.Queue(`
				UPDATE participants SET
					points = $3, rank = $4, minutes = $5, tests = $6, accuracy = $7,
					streak = $8, updated_at = $9, frozen = $10
				WHERE competition_id = $1 AND user_id = $2 AND NOT frozen
			`, competitionID, string(s.UserID), s.Points, int(s.Rank), s.Metrics.Minutes,
				s.Metrics.Tests, s.Metrics.Accuracy, s.Metrics.Streak, s.UpdatedAt.UTC(), freeze)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if IsNoRows(err) {
		return shared.ErrCompetitionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save standings: %w", err)
	}
	return nil
}

func scanParticipant(row pgx.Row) (*competition.Participant, error) {
	var (
		p    competition.Participant
		uid  string
		rank int
	)
	err := row.Scan(&p.CompetitionID, &uid, &p.Points, &rank, &p.Metrics.Minutes, &p.Metrics.Tests,
		&p.Metrics.Accuracy, &p.Metrics.Streak, &p.JoinedAt, &p.Frozen, &p.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan participant: %w", err)
	}
	p.UserID = shared.UserID(uid)
	p.Rank = shared.Rank(rank)
	return &p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARDS & BALANCES
// ══════════════════════════════════════════════════════════════════════════════

// RewardRepository implements competition.RewardRepository and
// competition.BalanceReader.
type RewardRepository struct {
	conn *Connection
}

// NewRewardRepository creates a new RewardRepository.
func NewRewardRepository(conn *Connection) *RewardRepository {
	return &RewardRepository{conn: conn}
}

// IssueIfAbsent inserts the record and credits the balance atomically.
func (r *RewardRepository) IssueIfAbsent(ctx context.Context, rec *competition.RewardRecord) (bool, error) {
	issued := false
	err := r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		issued = false

		tag, err := tx.Exec(ctx, `
			INSERT INTO reward_records (competition_id, user_id, tier, rank, points, badge, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (competition_id, user_id, tier) DO NOTHING
		`, rec.CompetitionID, string(rec.UserID), rec.Tier, int(rec.Rank), rec.Points, rec.Badge, rec.IssuedAt.UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO user_balances (user_id, points, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				points = user_balances.points + EXCLUDED.points,
				updated_at = NOW()
		`, string(rec.UserID), rec.Points)
		if err != nil {
			return err
		}
		issued = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to issue reward: %w", err)
	}
	return issued, nil
}

// ListByCompetition returns issued rewards in rank order.
func (r *RewardRepository) ListByCompetition(ctx context.Context, competitionID string) ([]*competition.RewardRecord, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT competition_id, user_id, tier, rank, points, badge, issued_at
		FROM reward_records
		WHERE competition_id = $1
		ORDER BY rank, user_id
	`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var out []*competition.RewardRecord
	for rows.Next() {
		var (
			rec  competition.RewardRecord
			uid  string
			rank int
		)
		if err := rows.Scan(&rec.CompetitionID, &uid, &rec.Tier, &rank, &rec.Points, &rec.Badge, &rec.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rec.UserID = shared.UserID(uid)
		rec.Rank = shared.Rank(rank)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Balance returns the user's points, 0 for unknown users.
func (r *RewardRepository) Balance(ctx context.Context, userID shared.UserID) (int, error) {
	var points int
	err := r.conn.QueryRow(ctx, `SELECT points FROM user_balances WHERE user_id = $1`, string(userID)).Scan(&points)
	if err != nil {
		if IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return points, nil
}
