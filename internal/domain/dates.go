package domain

import (
	"fmt"
	"time"
)

// DateFormat is the wire and storage format for all calendar dates. ISO
// dates compare correctly as plain strings, so ordering never needs parsing.
const DateFormat = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// Today returns the current UTC date.
func Today() string {
	return FormatDate(time.Now().UTC())
}

// AddDays shifts a date by n calendar days. The input must be a valid date;
// callers validate at the boundary.
func AddDays(date string, n int) string {
	t, err := ParseDate(date)
	if err != nil {
		return date
	}
	return FormatDate(t.AddDate(0, 0, n))
}

// ISOWeekEnd returns the last calendar day (Sunday) of the ISO week
// containing the given date. Weekly series buckets close on this day.
func ISOWeekEnd(date string) string {
	t, err := ParseDate(date)
	if err != nil {
		return date
	}
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // ISO weeks run Monday(1) through Sunday(7)
	}
	return FormatDate(t.AddDate(0, 0, 7-wd))
}

// DaysBetween returns the number of calendar days from a to b. Negative when
// b precedes a.
func DaysBetween(a, b string) int {
	ta, errA := ParseDate(a)
	tb, errB := ParseDate(b)
	if errA != nil || errB != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}
