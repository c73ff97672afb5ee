package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron_Next(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 7, 30, 0, time.UTC) // Friday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/5 * * * *", time.Date(2024, 3, 15, 10, 10, 0, 0, time.UTC)},
		{"30 3 * * *", time.Date(2024, 3, 16, 3, 30, 0, 0, time.UTC)},
		{"0 0 * * 1-5", time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)},
		{"0,30 10 * * *", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"0 12 1 * *", time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			cs, err := ParseCron(tt.expr, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cs.Next(base))
			assert.Equal(t, tt.expr, cs.String())
		})
	}
}

func TestParseCron_Location(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	cs := MustParseCron("0 6 * * *", loc)

	next := cs.Next(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC), next.UTC())
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		_, err := ParseCron(expr, nil)
		assert.Error(t, err, expr)
	}
}

func TestEvery(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(2*time.Minute), Every(2*time.Minute).Next(now))
	assert.Equal(t, time.Minute, Every(0).Interval)
	assert.Equal(t, "@every 2m0s", Every(2*time.Minute).String())
}
