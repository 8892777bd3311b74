package phone

import "testing"

func TestNormalizeE164LocalNumber(t *testing.T) {
	got := NormalizeE164("0661 23 45 67")
	if got != "+213661234567" {
		t.Fatalf("expected +213661234567, got %s", got)
	}
}

func TestNormalizeE164AlreadyInternational(t *testing.T) {
	got := NormalizeE164("+213661234567")
	if got != "+213661234567" {
		t.Fatalf("expected +213661234567, got %s", got)
	}
}

func TestNormalizeE164FallsBackToDigits(t *testing.T) {
	got := NormalizeE164("not-a-number-12")
	if got != "12" {
		t.Fatalf("expected digit fallback 12, got %s", got)
	}
}

func TestSameAcrossFormats(t *testing.T) {
	if !Same("0661234567", "+213 661 23 45 67") {
		t.Fatalf("expected local and international forms to match")
	}
}

func TestSameEmptyNeverMatches(t *testing.T) {
	if Same("", "") {
		t.Fatalf("expected empty numbers to never match")
	}
}

func TestSameDifferentLines(t *testing.T) {
	if Same("0661234567", "0771234567") {
		t.Fatalf("expected different lines to not match")
	}
}
