package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY REPORT REPOSITORY
// Increments are additive upserts, so concurrent applies to the same row
// serialize on the row lock instead of overwriting each other.
// ══════════════════════════════════════════════════════════════════════════════

// ReportRepository implements report.Repository.
type ReportRepository struct {
	conn *Connection
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(conn *Connection) *ReportRepository {
	return &ReportRepository{conn: conn}
}

// Apply records the dedupe key and adds the increment in one transaction.
func (r *ReportRepository) Apply(ctx context.Context, inc report.Increment) (bool, error) {
	if err := inc.Validate(); err != nil {
		return false, err
	}
	day := inc.Date.Time(time.UTC)

	var subjects []string
	if inc.Subject != "" {
		subjects = []string{inc.Subject}
	} else {
		subjects = []string{}
	}
	flagged := 0
	if inc.Flagged {
		flagged = 1
	}

	applied := false
	err := r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		applied = false

		tag, err := tx.Exec(ctx, `
			INSERT INTO report_applications (dedupe_key, user_id, report_date)
			VALUES ($1, $2, $3)
			ON CONFLICT (dedupe_key) DO NOTHING
		`, inc.DedupeKey, string(inc.UserID), day)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO daily_reports (
				user_id, report_date, minutes, sessions, tests, flagged_sessions,
				correct_answers, total_questions, subjects, updated_at
			) VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (user_id, report_date) DO UPDATE SET
				minutes = daily_reports.minutes + EXCLUDED.minutes,
				sessions = daily_reports.sessions + 1,
				tests = daily_reports.tests + EXCLUDED.tests,
				flagged_sessions = daily_reports.flagged_sessions + EXCLUDED.flagged_sessions,
				correct_answers = daily_reports.correct_answers + EXCLUDED.correct_answers,
				total_questions = daily_reports.total_questions + EXCLUDED.total_questions,
				subjects = COALESCE((
					SELECT array_agg(DISTINCT s ORDER BY s)
					FROM unnest(daily_reports.subjects || EXCLUDED.subjects) AS s
				), '{}'),
				updated_at = NOW()
		`, string(inc.UserID), day, inc.Minutes, inc.Tests, flagged,
			inc.Correct, inc.TotalQuestions, subjects)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply report increment: %w", err)
	}
	return applied, nil
}

const reportColumns = `user_id, report_date, minutes, sessions, tests, flagged_sessions,
	correct_answers, total_questions, subjects, updated_at`

// Get returns a report or shared.ErrReportNotFound.
func (r *ReportRepository) Get(ctx context.Context, userID shared.UserID, date report.Date) (*report.DailyReport, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM daily_reports
		WHERE user_id = $1 AND report_date = $2
	`, string(userID), date.Time(time.UTC))

	rep, err := scanReport(row)
	if IsNoRows(err) {
		return nil, shared.ErrReportNotFound
	}
	return rep, err
}

// ListRange returns the user's reports in [from, to], oldest first.
func (r *ReportRepository) ListRange(ctx context.Context, userID shared.UserID, from, to report.Date) ([]*report.DailyReport, error) {
	return r.ListRangeForUsers(ctx, []shared.UserID{userID}, from, to)
}

// ListRangeForUsers returns reports in [from, to] for the given users.
func (r *ReportRepository) ListRangeForUsers(ctx context.Context, userIDs []shared.UserID, from, to report.Date) ([]*report.DailyReport, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = string(id)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT `+reportColumns+` FROM daily_reports
		WHERE user_id = ANY($1) AND report_date BETWEEN $2 AND $3
		ORDER BY user_id, report_date
	`, ids, from.Time(time.UTC), to.Time(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var out []*report.DailyReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (*report.DailyReport, error) {
	var (
		rep report.DailyReport
		uid string
		day time.Time
	)
	err := row.Scan(&uid, &day, &rep.Minutes, &rep.Sessions, &rep.Tests, &rep.FlaggedSessions,
		&rep.Correct, &rep.TotalQuestions, &rep.Subjects, &rep.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	rep.UserID = shared.UserID(uid)
	rep.Date = report.Date(day.Format(report.DateLayout))
	if rep.Subjects == nil {
		rep.Subjects = []string{}
	}
	return &rep, nil
}
