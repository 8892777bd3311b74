package utils

import "time"

// WithinWindow reports whether t falls inside an HH:MM working-hours window,
// bounds inclusive. Empty bounds never match.
func WithinWindow(t time.Time, start, end string) bool {
	if start == "" || end == "" {
		return false
	}
	hm := t.Format("15:04")
	return hm >= start && hm <= end
}

// DayBounds returns midnight of t's day and midnight of the next day, in t's
// location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
