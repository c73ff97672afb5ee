// Package report owns the per-user, per-day study totals.
// A DailyReport is mutated only through Increment; every counted session
// adds to existing totals and never replaces them.
package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
)

// Domain errors for report package.
var (
	ErrNegativeIncrement = errors.New("report: increment cannot be negative")
	ErrCorrectOverTotal  = errors.New("report: correct answers exceed total questions")
	ErrMissingDedupeKey  = errors.New("report: dedupe key is required")
)

// DateLayout is the canonical date bucket format.
const DateLayout = "2006-01-02"

// Date is a calendar day bucket in the configured timezone.
type Date string

// DateOf returns the bucket of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", shared.WrapError("report", "ParseDate", shared.ErrInvalidInput, "date must be YYYY-MM-DD", err)
	}
	return Date(s), nil
}

// Time returns midnight of the date in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, _ := time.ParseInLocation(DateLayout, string(d), loc)
	return t
}

// String returns the string representation.
func (d Date) String() string {
	return string(d)
}

// DailyReport is the aggregate of one user's counted sessions on one day.
type DailyReport struct {
	UserID          shared.UserID `json:"user_id"`
	Date            Date          `json:"date"`
	Minutes         int           `json:"minutes"`
	Sessions        int           `json:"sessions"`
	Tests           int           `json:"tests"`
	FlaggedSessions int           `json:"flagged_sessions"`
	Correct         int           `json:"correct_answers"`
	TotalQuestions  int           `json:"total_questions"`
	Subjects        []string      `json:"subjects"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Accuracy returns correct/total in percent, or 0 without questions.
func (r *DailyReport) Accuracy() float64 {
	if r.TotalQuestions == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.TotalQuestions) * 100
}

// Valid checks the report invariants.
func (r *DailyReport) Valid() bool {
	return r.Minutes >= 0 && r.Correct >= 0 && r.Correct <= r.TotalQuestions
}

// Increment is the commutative delta one counted session contributes.
type Increment struct {
	DedupeKey      string
	UserID         shared.UserID
	Date           Date
	Minutes        int
	Tests          int
	Correct        int
	TotalQuestions int
	Subject        string
	Flagged        bool
}

// Validate checks that applying the increment keeps the report invariants.
func (i Increment) Validate() error {
	switch {
	case i.DedupeKey == "":
		return ErrMissingDedupeKey
	case !i.UserID.IsValid():
		return shared.NewDomainError("report", "Apply", shared.ErrInvalidID, "invalid user ID")
	case i.Minutes < 0 || i.Tests < 0 || i.Correct < 0 || i.TotalQuestions < 0:
		return ErrNegativeIncrement
	case i.Correct > i.TotalQuestions:
		return ErrCorrectOverTotal
	}
	return nil
}

// FromSession builds the increment for a counted session. The session ID is
// the dedupe key, and the date bucket is the session start in loc.
func FromSession(s *activity.Session, outcome trust.Outcome, loc *time.Location) Increment {
	inc := Increment{
		DedupeKey:      s.ID,
		UserID:         s.UserID,
		Date:           DateOf(s.Start, loc),
		Minutes:        s.Minutes(),
		Correct:        s.Correct,
		TotalQuestions: s.Questions,
		Subject:        s.Subject,
		Flagged:        outcome == trust.OutcomeFlagged,
	}
	if s.HasQuestions() {
		inc.Tests = 1
	}
	return inc
}

// Apply adds the increment to the report in place.
func (r *DailyReport) Apply(inc Increment, now time.Time) {
	r.Minutes += inc.Minutes
	r.Sessions++
	r.Tests += inc.Tests
	r.Correct += inc.Correct
	r.TotalQuestions += inc.TotalQuestions
	if inc.Flagged {
		r.FlaggedSessions++
	}
	r.Subjects = unionSubject(r.Subjects, inc.Subject)
	r.UpdatedAt = now
}

func unionSubject(set []string, subject string) []string {
	if subject == "" {
		return set
	}
	i := sort.SearchStrings(set, subject)
	if i < len(set) && set[i] == subject {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = subject
	return set
}

// Fold replays increments from scratch, skipping repeated dedupe keys.
// It is the reference the persistent aggregator must agree with.
func Fold(incs []Increment) map[Key]*DailyReport {
	seen := make(map[string]struct{}, len(incs))
	out := make(map[Key]*DailyReport)
	for _, inc := range incs {
		if _, dup := seen[inc.DedupeKey]; dup {
			continue
		}
		seen[inc.DedupeKey] = struct{}{}
		k := Key{UserID: inc.UserID, Date: inc.Date}
		r, ok := out[k]
		if !ok {
			r = &DailyReport{UserID: inc.UserID, Date: inc.Date, Subjects: []string{}}
			out[k] = r
		}
		r.Apply(inc, time.Time{})
	}
	return out
}

// Key addresses one report.
type Key struct {
	UserID shared.UserID
	Date   Date
}

// Repository is the only writer of daily reports.
type Repository interface {
	// Apply adds the increment exactly once per dedupe key. It returns false
	// when the key was already applied. Concurrent applies to the same
	// (user, date) must not lose updates.
	Apply(ctx context.Context, inc Increment) (bool, error)

	// Get returns a report, or shared.ErrReportNotFound.
	Get(ctx context.Context, userID shared.UserID, date Date) (*DailyReport, error)

	// ListRange returns the user's reports in [from, to], oldest first.
	ListRange(ctx context.Context, userID shared.UserID, from, to Date) ([]*DailyReport, error)

	// ListRangeForUsers returns reports in [from, to] for many users.
	ListRangeForUsers(ctx context.Context, userIDs []shared.UserID, from, to Date) ([]*DailyReport, error)
}
