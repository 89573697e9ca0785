package markethours

import (
	"testing"
	"time"
)

func TestSession_UTCMidnight(t *testing.T) {
	a := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if UTCMidnight.SameSession(a, b) {
		t.Fatalf("bars either side of midnight must be different sessions")
	}
	if !UTCMidnight.SameSession(b, b.Add(5*time.Hour)) {
		t.Fatalf("bars on the same day must share a session")
	}
}

var ist = time.FixedZone("IST", 5*3600+30*60)

func TestSession_ResetTimeInZone(t *testing.T) {
	s := Session{Location: ist, ResetHour: 9, ResetMinute: 15}

	before := time.Date(2026, 3, 3, 9, 0, 0, 0, ist)
	after := time.Date(2026, 3, 3, 9, 15, 0, 0, ist)
	if s.SameSession(before, after) {
		t.Errorf("09:00 and 09:15 IST should straddle the reset")
	}
	want := time.Date(2026, 3, 2, 9, 15, 0, 0, ist)
	if got := s.Start(before); !got.Equal(want) {
		t.Errorf("Start(%v) = %v, want %v", before, got, want)
	}
	// 03:50 UTC is 09:20 IST.
	if !s.SameSession(after, time.Date(2026, 3, 3, 3, 50, 0, 0, time.UTC)) {
		t.Errorf("UTC instant after reset should share the IST session")
	}
}

func TestNewSession(t *testing.T) {
	s, err := NewSession("UTC", "13:30")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.ResetHour != 13 || s.ResetMinute != 30 {
		t.Errorf("reset = %02d:%02d, want 13:30", s.ResetHour, s.ResetMinute)
	}
	if _, err := NewSession("Nowhere/City", ""); err == nil {
		t.Errorf("expected error for unknown zone")
	}
	if _, err := NewSession("", "25:99"); err == nil {
		t.Errorf("expected error for bad reset time")
	}
}
