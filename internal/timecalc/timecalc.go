package timecalc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tiliavir/team-worklog/internal/model"
)

// Window tokens accepted by ResolveWindow in addition to a day count.
const (
	Today           = "today"
	Yesterday       = "yesterday"
	PreviousWorkday = "previous_workday"

	// DefaultLookbackDays is used when the token is neither a known name nor
	// a positive day count.
	DefaultLookbackDays = 8
)

// ResolveWindow turns a window token into a concrete date window evaluated
// against now. The window inherits now's location.
func ResolveWindow(token string, now time.Time) model.DateWindow {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case Today:
		return model.DateWindow{Start: StartOfDay(now), End: EndOfDay(now)}
	case Yesterday:
		y := now.AddDate(0, 0, -1)
		return model.DateWindow{Start: StartOfDay(y), End: EndOfDay(y)}
	case PreviousWorkday:
		d := PreviousWorkdayOf(now)
		return model.DateWindow{Start: StartOfDay(d), End: EndOfDay(d)}
	}

	days, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil || days <= 0 {
		days = DefaultLookbackDays
	}
	return model.DateWindow{Start: now.AddDate(0, 0, -days), End: now}
}

// PreviousWorkdayOf walks back from the day before t until it lands on a
// weekday.
func PreviousWorkdayOf(t time.Time) time.Time {
	d := t.AddDate(0, 0, -1)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ParseStarted parses a tracker worklog timestamp. Two encodings occur in
// practice: "2024-01-15T10:30:00.000Z" and "2025-04-01T11:30:57.000+0300"
// (offset without a colon).
func ParseStarted(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// RFC3339 covers the Z suffix and colon offsets; fractional seconds are
	// accepted by the parser even though the layout omits them.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05Z0700", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse worklog time %q", s)
}

// ParseDay parses a calendar date in loc. Full timestamps are accepted too and
// converted to loc before the date is taken.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	t, err := ParseStarted(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse date %q", s)
	}
	return StartOfDay(t.In(loc)), nil
}

// FormatDuration formats seconds as a human-readable string like "1h 40m" or "45m" or "30s".
func FormatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}

// StartOfDay returns 00:00:00 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of the same day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
