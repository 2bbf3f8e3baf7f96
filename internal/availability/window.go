package availability

import (
	"time"

	"github.com/cpuguy83/calslot/internal/calendar"
)

// Hours bounds the working day as offsets from local midnight.
type Hours struct {
	Start time.Duration
	End   time.Duration
}

// DefaultHours is 09:00 to 18:00.
var DefaultHours = Hours{Start: 9 * time.Hour, End: 18 * time.Hour}

// DayWindow is the span of one calendar day in which slots may be offered.
type DayWindow struct {
	Start time.Time
	End   time.Time
}

// NewDayWindow builds the window for the calendar date of anchor in loc.
// Offsets are applied to the wall clock, so a DST change does not shift
// the window.
func NewDayWindow(anchor time.Time, loc *time.Location, h Hours) DayWindow {
	y, m, d := anchor.In(loc).Date()
	at := func(off time.Duration) time.Time {
		return time.Date(y, m, d, 0, int(off/time.Minute), 0, 0, loc)
	}
	return DayWindow{Start: at(h.Start), End: at(h.End)}
}

// Interval returns the window as an interval.
func (w DayWindow) Interval() calendar.Interval {
	return calendar.Interval{Start: w.Start, End: w.End}
}
