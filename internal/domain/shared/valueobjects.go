package shared

import (
	"math"
	"regexp"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a learner. Identity is owned by an upstream service,
// so the core only checks the shape.
type UserID string

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_\-:.@]{1,128}$`)

// IsValid checks if the user ID has an acceptable shape.
func (u UserID) IsValid() bool {
	return userIDRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Rank represents a participant's position in a competition.
type Rank int

const (
	MinRank  Rank = 1
	Unranked Rank = 0 // Not yet ranked
)

// IsValid checks if the rank is valid.
func (r Rank) IsValid() bool {
	return r >= MinRank
}

// Int returns the underlying int value.
func (r Rank) Int() int {
	return int(r)
}

// Percentile returns the share of the field at or below this rank,
// rounded to one decimal. Rank 1 of any field is 100.
func (r Rank) Percentile(total int) float64 {
	if !r.IsValid() || total <= 0 || int(r) > total {
		return 0
	}
	p := (1 - float64(int(r)-1)/float64(total)) * 100
	return math.Round(p*10) / 10
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a half-open time period [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return !tm.Before(t.From) && tm.Before(t.To)
}
