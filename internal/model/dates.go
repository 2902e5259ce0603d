package model

import "time"

// DateLayout is the wire and storage format for effective dates.
const DateLayout = "2006-01-02"

// Date truncates t to a UTC calendar date.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FirstOfMonth returns the first day of t's month.
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonth returns the first day of the month after t.
func NextMonth(t time.Time) time.Time {
	return FirstOfMonth(t).AddDate(0, 1, 0)
}

// IsFirstOfMonth reports whether t falls on the first day of a month.
func IsFirstOfMonth(t time.Time) bool {
	return t.Day() == 1
}

// EffectiveDates generates n first-of-month dates starting from today if
// today is the first, otherwise from the first of next month. Quote sources
// file rates on month boundaries, so these are the dates worth requesting.
func EffectiveDates(now time.Time, n int) []time.Time {
	start := FirstOfMonth(Date(now))
	if !IsFirstOfMonth(Date(now)) {
		start = NextMonth(now)
	}
	dates := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, start.AddDate(0, i, 0))
	}
	return dates
}

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
