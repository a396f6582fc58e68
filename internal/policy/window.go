package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time of day with minute resolution, independent of any
// date or zone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses a "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid time %q: hour must be 0-23 and minute 0-59", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// ClockOf extracts the time of day from an instant, in that instant's
// location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}
}

func (c ClockTime) Before(o ClockTime) bool {
	return c.Hour < o.Hour || (c.Hour == o.Hour && c.Minute < o.Minute)
}

func (c ClockTime) After(o ClockTime) bool {
	return o.Before(c)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// InWindow reports whether t falls inside the daily window from start
// to end, both boundaries inclusive. A window whose start is later than
// its end wraps past midnight. A window whose start equals its end
// covers the full day.
func InWindow(t, start, end ClockTime) bool {
	if start == end {
		return true
	}
	if start.After(end) {
		return !t.Before(start) || !t.After(end)
	}
	return !t.Before(start) && !t.After(end)
}

// WindowStart anchors the window's start to its most recent occurrence
// relative to now: today at the start time, or yesterday when the start
// time has not yet come around today.
func WindowStart(now time.Time, start ClockTime) time.Time {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), start.Hour, start.Minute, 0, 0, now.Location())
	if ClockOf(now).Before(start) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	return anchor
}

// WindowEnd returns the end instant of the window cycle containing or
// most recently preceding now. For overnight windows the end lands on
// the day after the anchored start.
func WindowEnd(now time.Time, start, end ClockTime) time.Time {
	endAt := time.Date(now.Year(), now.Month(), now.Day(), end.Hour, end.Minute, 0, 0, now.Location())
	if start.After(end) && !ClockOf(now).Before(start) {
		endAt = endAt.AddDate(0, 0, 1)
	}
	return endAt
}
