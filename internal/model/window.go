package model

import "time"

// DateWindow is an inclusive [Start, End] interval. Both ends carry the fixed
// local zone used for all date comparisons.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// Location returns the zone the window is expressed in.
func (w DateWindow) Location() *time.Location {
	return w.Start.Location()
}

// ContainsDay reports whether the calendar date of t, taken in the window's
// zone, lies within the window's calendar dates.
func (w DateWindow) ContainsDay(t time.Time) bool {
	d := dayNumber(t.In(w.Location()))
	return d >= dayNumber(w.Start) && d <= dayNumber(w.End)
}

// StartDate returns the first date of the window as YYYY-MM-DD.
func (w DateWindow) StartDate() string {
	return w.Start.Format("2006-01-02")
}

// EndDate returns the last date of the window as YYYY-MM-DD.
func (w DateWindow) EndDate() string {
	return w.End.Format("2006-01-02")
}

func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
