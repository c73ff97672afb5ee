package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInHourWindow(t *testing.T) {
	tests := []struct {
		hour, start, end int
		want             bool
	}{
		{3, 0, 6, true},
		{6, 0, 6, false},
		{23, 22, 5, true},
		{4, 22, 5, true},
		{12, 22, 5, false},
		{5, 5, 5, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InHourWindow(tt.hour, tt.start, tt.end), "hour=%d window=[%d,%d)", tt.hour, tt.start, tt.end)
	}
}

func TestStartOfDay_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2025, 3, 9, 20, 30, 0, 0, time.UTC) // 01:30 on the 10th locally

	got := StartOfDay(ts, loc)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, loc), got)
	assert.True(t, IsSameDay(ts, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), loc))
	assert.False(t, IsSameDay(ts, time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC), loc))
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	c := &FixedClock{T: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.Advance(time.Hour)
	assert.Equal(t, 1, c.Now().Hour())
}
