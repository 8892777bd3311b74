package utils

import (
	"testing"
	"time"
)

func TestWithinWindow(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
	}

	if !WithinWindow(at(10, 30), "09:00", "17:00") {
		t.Fatalf("expected 10:30 inside 09:00-17:00")
	}
	if !WithinWindow(at(9, 0), "09:00", "17:00") {
		t.Fatalf("expected start bound inclusive")
	}
	if !WithinWindow(at(17, 0), "09:00", "17:00") {
		t.Fatalf("expected end bound inclusive")
	}
	if WithinWindow(at(8, 59), "09:00", "17:00") {
		t.Fatalf("expected 08:59 outside window")
	}
	if WithinWindow(at(12, 0), "", "") {
		t.Fatalf("expected empty window to never match")
	}
}

func TestDayBounds(t *testing.T) {
	at := time.Date(2026, 3, 10, 15, 45, 0, 0, time.UTC)
	start, end := DayBounds(at)
	if !start.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day start %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day end %v", end)
	}
}

func TestDayBoundsKeepsLocation(t *testing.T) {
	// 00:30 local is 23:30 the previous day in UTC; the day boundary must be
	// the local midnight, not the UTC one.
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 3, 10, 0, 30, 0, 0, loc)
	start, end := DayBounds(at)
	if !start.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected day start %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected day end %v", end)
	}
}
