// Package markethours defines trading-session boundaries for session-anchored
// indicators such as intraday VWAP.
package markethours

import (
	"fmt"
	"time"
)

// Session places the start of each trading day at ResetHour:ResetMinute in Location.
type Session struct {
	Location    *time.Location
	ResetHour   int
	ResetMinute int
}

// UTCMidnight resets at 00:00 UTC.
var UTCMidnight = Session{Location: time.UTC}

// NewSession builds a session from an IANA zone name and a "HH:MM" reset time.
// An empty reset means midnight.
func NewSession(zone, reset string) (Session, error) {
	loc := time.UTC
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return Session{}, fmt.Errorf("markethours: load location %q: %w", zone, err)
		}
		loc = l
	}
	s := Session{Location: loc}
	if reset != "" {
		t, err := time.Parse("15:04", reset)
		if err != nil {
			return Session{}, fmt.Errorf("markethours: reset time %q: %w", reset, err)
		}
		s.ResetHour, s.ResetMinute = t.Hour(), t.Minute()
	}
	return s, nil
}

// Start returns the start of the session containing t.
func (s Session) Start(t time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), s.ResetHour, s.ResetMinute, 0, 0, loc)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// SameSession reports whether a and b fall in the same trading session.
func (s Session) SameSession(a, b time.Time) bool {
	return s.Start(a).Equal(s.Start(b))
}
