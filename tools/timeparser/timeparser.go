package timeparser

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time without a date
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// String formats the time of day as HH:MM:SS
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// ParseTimeOfDay attempts to parse a time of day with multiple formats
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	formats := []string{
		"15:04:05", // HH:mm:ss
		"15:04",    // HH:mm
		"3:04PM",   // h:mmPM
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
		lastErr = err
	}

	return TimeOfDay{}, fmt.Errorf("failed to parse time of day '%s': %w", s, lastErr)
}

// On returns the instant the time of day falls on for the calendar date of
// day, in day's location
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

// SameDate reports whether a and b fall on the same calendar date
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DateOf truncates t to midnight of its calendar date, keeping its location
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
