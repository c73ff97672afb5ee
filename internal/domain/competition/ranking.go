package competition

import (
	"math"
	"sort"
	"time"

	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// Metrics are a participant's raw performance inside the window.
type Metrics struct {
	Minutes  int     `json:"minutes"`
	Tests    int     `json:"tests"`
	Accuracy float64 `json:"accuracy"`
	Streak   int     `json:"streak"`
}

// Participant is one user's entry in a competition.
type Participant struct {
	CompetitionID string        `json:"competition_id"`
	UserID        shared.UserID `json:"user_id"`
	Points        int           `json:"points"`
	Rank          shared.Rank   `json:"rank"`
	Metrics       Metrics       `json:"metrics"`
	JoinedAt      time.Time     `json:"joined_at"`
	Frozen        bool          `json:"frozen"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewParticipant creates an unranked participant.
func NewParticipant(competitionID string, userID shared.UserID, now time.Time) *Participant {
	return &Participant{
		CompetitionID: competitionID,
		UserID:        userID,
		JoinedAt:      now,
	}
}

// ScoringPolicy holds the point formula weights.
type ScoringPolicy struct {
	MinuteWeight   int `mapstructure:"minute_weight" json:"minute_weight"`
	TestWeight     int `mapstructure:"test_weight" json:"test_weight"`
	AccuracyWeight int `mapstructure:"accuracy_weight" json:"accuracy_weight"`
	StreakWeight   int `mapstructure:"streak_weight" json:"streak_weight"`

	// StreakCap bounds streak points; 0 leaves them uncapped.
	StreakCap int `mapstructure:"streak_cap" json:"streak_cap"`
}

// DefaultScoringPolicy returns points = minutes + 10*tests + 5*accuracy + 5*streak.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		MinuteWeight:   1,
		TestWeight:     10,
		AccuracyWeight: 5,
		StreakWeight:   5,
	}
}

// Validate checks the weights.
func (p ScoringPolicy) Validate() error {
	if p.MinuteWeight < 0 || p.TestWeight < 0 || p.AccuracyWeight < 0 || p.StreakWeight < 0 || p.StreakCap < 0 {
		return shared.NewDomainError("competition", "ValidateScoring", shared.ErrNegativeValue, "scoring weights cannot be negative")
	}
	if p.MinuteWeight+p.TestWeight+p.AccuracyWeight+p.StreakWeight == 0 {
		return shared.NewDomainError("competition", "ValidateScoring", shared.ErrInvalidInput, "at least one scoring weight must be positive")
	}
	return nil
}

// Points applies the formula. Accuracy points are floored to an integer.
func (p ScoringPolicy) Points(m Metrics) int {
	streak := p.StreakWeight * m.Streak
	if p.StreakCap > 0 && streak > p.StreakCap {
		streak = p.StreakCap
	}
	return p.MinuteWeight*m.Minutes +
		p.TestWeight*m.Tests +
		int(math.Floor(float64(p.AccuracyWeight)*m.Accuracy)) +
		streak
}

// MetricsFromReports folds a user's daily reports inside [from, to] into metrics.
// The streak is the longest run of consecutive active days inside the window,
// so it depends only on the window's reports.
func MetricsFromReports(reports []*report.DailyReport, from, to report.Date) Metrics {
	var m Metrics
	var correct, total int
	active := make(map[report.Date]bool)
	for _, r := range reports {
		if r.Date < from || r.Date > to {
			continue
		}
		m.Minutes += r.Minutes
		m.Tests += r.Tests
		correct += r.Correct
		total += r.TotalQuestions
		if r.Minutes > 0 {
			active[r.Date] = true
		}
	}
	if total > 0 {
		m.Accuracy = math.Round(float64(correct)/float64(total)*10000) / 100
	}
	m.Streak = longestRun(active, from, to)
	return m
}

func longestRun(active map[report.Date]bool, from, to report.Date) int {
	if len(active) == 0 {
		return 0
	}
	start := from.Time(time.UTC)
	end := to.Time(time.UTC)
	best, run := 0, 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if active[report.Date(d.Format(report.DateLayout))] {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

// Less is the ranking order: points, minutes and accuracy descending,
// then earliest join. User ID closes the order so it is total.
func Less(a, b *Participant) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.Metrics.Minutes != b.Metrics.Minutes {
		return a.Metrics.Minutes > b.Metrics.Minutes
	}
	if a.Metrics.Accuracy != b.Metrics.Accuracy {
		return a.Metrics.Accuracy > b.Metrics.Accuracy
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.UserID < b.UserID
}

// Rank sorts participants in place and assigns ranks 1..n.
func Rank(participants []*Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		return Less(participants[i], participants[j])
	})
	for i, p := range participants {
		p.Rank = shared.Rank(i + 1)
	}
}

// Standings recomputes points for every participant from their metrics and ranks them.
// Frozen participants keep their final rank and points.
func Standings(policy ScoringPolicy, participants []*Participant, metrics map[shared.UserID]Metrics, now time.Time) []*Participant {
	out := make([]*Participant, 0, len(participants))
	frozen := false
	for _, p := range participants {
		cp := *p
		if cp.Frozen {
			frozen = true
		} else {
			cp.Metrics = metrics[cp.UserID]
			cp.Points = policy.Points(cp.Metrics)
			cp.UpdatedAt = now
		}
		out = append(out, &cp)
	}
	if frozen {
		// Final ranks are authoritative once frozen.
		sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
		return out
	}
	Rank(out)
	return out
}
