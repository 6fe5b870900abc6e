package timeline

import (
	"fmt"

	"github.com/shortwatch/shortwatch/internal/domain"
)

// autoWeeklyAfterDays is the range length beyond which an unspecified
// bucketing falls back to weekly sampling.
const autoWeeklyAfterDays = 183

// timeframes maps the shorthand range aliases to their length in days.
// The long aliases sample weekly regardless of what the caller asked for.
var timeframes = map[string]struct {
	days        int
	forceWeekly bool
}{
	"1w": {days: 7},
	"1m": {days: 30},
	"3m": {days: 91},
	"6m": {days: 183, forceWeekly: true},
	"1y": {days: 365, forceWeekly: true},
}

// BucketDates returns the sampling dates for a range, ascending. Daily
// sampling hits every calendar day. Weekly sampling hits the last calendar
// day of each ISO week, clamped to the range end for a partial final week.
func BucketDates(from, to string, bucketing domain.Bucketing) []string {
	var dates []string
	switch bucketing {
	case domain.BucketingWeekly:
		for d := from; d <= to; {
			end := domain.ISOWeekEnd(d)
			if end > to {
				end = to
			}
			dates = append(dates, end)
			d = domain.AddDays(end, 1)
		}
	default:
		for d := from; d <= to; d = domain.AddDays(d, 1) {
			dates = append(dates, d)
		}
	}
	return dates
}

// ResolveBucketing picks the series resolution. An explicit daily request on
// a long range is overridden to weekly to keep point counts bounded.
func ResolveBucketing(requested domain.Bucketing, from, to string) domain.Bucketing {
	if domain.DaysBetween(from, to) > autoWeeklyAfterDays {
		return domain.BucketingWeekly
	}
	if requested == "" {
		return domain.BucketingDaily
	}
	return requested
}

// ResolveTimeframe expands a shorthand alias like "1m" into a concrete
// range ending at the given date.
func ResolveTimeframe(alias, endDate string) (from, to string, bucketing domain.Bucketing, err error) {
	tf, ok := timeframes[alias]
	if !ok {
		return "", "", "", fmt.Errorf("%w: unknown timeframe %q", domain.ErrInvalidQuery, alias)
	}
	to = endDate
	from = domain.AddDays(to, -tf.days)
	bucketing = domain.BucketingDaily
	if tf.forceWeekly {
		bucketing = domain.BucketingWeekly
	}
	return from, to, bucketing, nil
}
