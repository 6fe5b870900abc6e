package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseDate tests parsing and rejection of calendar dates
func TestParseDate(t *testing.T) {
	parsed, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", FormatDate(parsed))

	_, err = ParseDate("2024-2-9")
	assert.Error(t, err)

	_, err = ParseDate("20240209")
	assert.Error(t, err)

	_, err = ParseDate("")
	assert.Error(t, err)
}

// TestAddDays tests calendar arithmetic across month boundaries
func TestAddDays(t *testing.T) {
	assert.Equal(t, "2024-02-01", AddDays("2024-01-31", 1))
	assert.Equal(t, "2024-01-01", AddDays("2024-01-08", -7))
	assert.Equal(t, "2024-03-01", AddDays("2024-02-29", 1))
}

// TestISOWeekEnd tests that weekly buckets close on the ISO week's Sunday
func TestISOWeekEnd(t *testing.T) {
	cases := []struct {
		date string
		want string
	}{
		{"2024-01-01", "2024-01-07"}, // Monday
		{"2024-01-04", "2024-01-07"}, // Thursday
		{"2024-01-07", "2024-01-07"}, // Sunday maps to itself
		{"2024-01-08", "2024-01-14"}, // next Monday
		{"2024-12-30", "2025-01-05"}, // ISO week spanning the year boundary
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, ISOWeekEnd(c.date), "week end of %s", c.date)
	}
}

// TestDaysBetween tests signed day distances
func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 7, DaysBetween("2024-01-01", "2024-01-08"))
	assert.Equal(t, -7, DaysBetween("2024-01-08", "2024-01-01"))
	assert.Equal(t, 0, DaysBetween("2024-01-08", "2024-01-08"))
}
