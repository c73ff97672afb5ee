package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/trust"
)

func inc(key string, minutes, correct, total int, subject string) Increment {
	i := Increment{
		DedupeKey:      key,
		UserID:         "u1",
		Date:           "2025-03-10",
		Minutes:        minutes,
		Correct:        correct,
		TotalQuestions: total,
		Subject:        subject,
	}
	if total > 0 {
		i.Tests = 1
	}
	return i
}

func TestFold_ReplayIsIdempotent(t *testing.T) {
	incs := []Increment{
		inc("s1", 30, 8, 10, "math"),
		inc("s2", 20, 0, 0, "physics"),
	}
	replayed := append(append([]Increment{}, incs...), incs[0], incs[1], incs[0])

	once := Fold(incs)
	twice := Fold(replayed)

	assert.Equal(t, once, twice)
	r := once[Key{UserID: "u1", Date: "2025-03-10"}]
	require.NotNil(t, r)
	assert.Equal(t, 50, r.Minutes)
	assert.Equal(t, 2, r.Sessions)
	assert.Equal(t, 1, r.Tests)
	assert.Equal(t, []string{"math", "physics"}, r.Subjects)
}

func TestFold_OrderDoesNotMatter(t *testing.T) {
	a := inc("s1", 30, 8, 10, "math")
	b := inc("s2", 20, 5, 5, "biology")
	c := inc("s3", 15, 0, 0, "math")

	x := Fold([]Increment{a, b, c})
	y := Fold([]Increment{c, a, b})

	assert.Equal(t, x, y)
}

func TestApply_KeepsInvariants(t *testing.T) {
	r := &DailyReport{UserID: "u1", Date: "2025-03-10"}
	for i, d := range []Increment{
		inc("a", 10, 3, 4, "x"),
		inc("b", 0, 0, 0, ""),
		inc("c", 45, 10, 10, "y"),
	} {
		require.NoError(t, d.Validate(), "increment %d", i)
		r.Apply(d, time.Time{})
		assert.True(t, r.Valid())
	}
	assert.Equal(t, 55, r.Minutes)
	assert.InDelta(t, 92.857, r.Accuracy(), 0.001)
}

func TestIncrement_Validate(t *testing.T) {
	bad := inc("a", 10, 5, 4, "")
	assert.ErrorIs(t, bad.Validate(), ErrCorrectOverTotal)

	neg := inc("a", -1, 0, 0, "")
	assert.ErrorIs(t, neg.Validate(), ErrNegativeIncrement)

	nokey := inc("", 1, 0, 0, "")
	assert.ErrorIs(t, nokey.Validate(), ErrMissingDedupeKey)
}

func TestFromSession_BucketsByLocalDate(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*3600)
	s := &activity.Session{
		ID:        "s1",
		UserID:    "u1",
		Type:      activity.TypeTest,
		Start:     time.Date(2025, 3, 10, 20, 30, 0, 0, time.UTC), // 01:30 next day in Almaty
		End:       time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC),
		Subject:   "math",
		Questions: 10,
		Correct:   7,
	}

	i := FromSession(s, trust.OutcomeFlagged, almaty)

	assert.Equal(t, Date("2025-03-11"), i.Date)
	assert.Equal(t, "s1", i.DedupeKey)
	assert.Equal(t, 30, i.Minutes)
	assert.Equal(t, 1, i.Tests)
	assert.True(t, i.Flagged)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Time(time.UTC).Day())

	_, err = ParseDate("10.03.2025")
	assert.Error(t, err)
}
