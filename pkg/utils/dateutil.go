// Package utils provides small shared helpers.
package utils

import (
	"fmt"
	"time"
)

// DateLayout is the ISO date form used by filing indexes, config
// bounds, and output rows.
const DateLayout = "2006-01-02"

// ParseDate parses an ISO date (YYYY-MM-DD) in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a time as an ISO date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// WithinRange reports whether the ISO date string falls inside
// [start, end], inclusive on both ends. Unparseable dates are outside
// every range.
func WithinRange(dateStr string, start, end time.Time) bool {
	d, err := ParseDate(dateStr)
	if err != nil {
		return false
	}
	// Compare at day granularity so an end bound of "today" includes
	// filings dated today regardless of clock time.
	startDay := start.Truncate(24 * time.Hour)
	endDay := end.Truncate(24 * time.Hour)
	return !d.Before(startDay) && !d.After(endDay)
}
