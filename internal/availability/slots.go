package availability

import (
	"sort"
	"time"

	"github.com/cpuguy83/calslot/internal/calendar"
)

// FindSlots returns the free slots of length d inside w.
//
// Busy intervals are ordered by start and walked with a cursor that only
// moves forward. Each gap before a busy interval yields at most one slot
// starting at the cursor; after the last busy interval the rest of the
// window is filled with back-to-back slots. Overlapping or out-of-range
// busy intervals are tolerated.
func FindSlots(w DayWindow, d time.Duration, busy []calendar.Interval) []calendar.Interval {
	if d <= 0 || !w.End.After(w.Start) {
		return nil
	}
	loc := w.Start.Location()

	sorted := make([]calendar.Interval, len(busy))
	for i, b := range busy {
		sorted[i] = b.In(loc)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var slots []calendar.Interval
	fits := func(start time.Time, limit time.Time) bool {
		end := start.Add(d)
		return !end.After(limit) && !end.After(w.End)
	}

	cursor := w.Start
	for _, b := range sorted {
		if fits(cursor, b.Start) {
			slots = append(slots, calendar.Interval{Start: cursor, End: cursor.Add(d)})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}

	for fits(cursor, w.End) {
		slots = append(slots, calendar.Interval{Start: cursor, End: cursor.Add(d)})
		cursor = cursor.Add(d)
	}
	return slots
}
