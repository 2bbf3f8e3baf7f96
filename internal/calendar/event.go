// Package calendar provides the calendar provider capability and the event types
// exchanged with it.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrReadOnly is returned by providers that cannot create events.
var ErrReadOnly = errors.New("calendar provider is read-only")

// PrimaryCalendar is the calendar identity used when none is configured.
const PrimaryCalendar = "primary"

// Event represents a calendar event.
type Event struct {
	// UID is the unique identifier for this event.
	UID string

	// Summary is the event title.
	Summary string

	// Description is the full event description/body.
	Description string

	// Location is the event location.
	Location string

	// Start is when the event begins.
	Start time.Time

	// End is when the event ends.
	End time.Time

	// AllDay indicates this is an all-day event.
	AllDay bool

	// Transparent events do not block time (TRANSP:TRANSPARENT, showAs=free).
	Transparent bool

	// Organizer is the email of the event organizer.
	Organizer string

	// Source is the name of the provider and calendar this event came from.
	Source string

	// URL is a link to the event (if any).
	URL string
}

// Duration returns the duration of the event.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Interval returns the time span the event occupies.
func (e *Event) Interval() Interval {
	return Interval{Start: e.Start, End: e.End}
}

// Interval is a span of time from Start to End.
// It is used both for busy periods reported by a provider and for free slots.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether the half-open intervals [i.Start, i.End) and
// [o.Start, o.End) share any instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// In returns the interval with both ends expressed in loc.
func (i Interval) In(loc *time.Location) Interval {
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

// BookingRequest describes a meeting to be created by a provider.
type BookingRequest struct {
	Start   time.Time
	End     time.Time
	Summary string

	// TimeZone is the IANA name of the local zone, carried as metadata
	// alongside the UTC start and end.
	TimeZone string
}

// Booking is the provider's confirmation of a created event.
type Booking struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Link    string    `json:"link"`
}

// Provider is the capability a calendar backend must implement.
type Provider interface {
	// Name returns the display name of this provider.
	Name() string

	// QueryBusy returns the busy periods of calendarID that intersect [start, end].
	// Intervals are returned in the order the backend reports them.
	QueryBusy(ctx context.Context, calendarID string, start, end time.Time) ([]Interval, error)

	// CreateEvent creates an event on calendarID.
	CreateEvent(ctx context.Context, calendarID string, req BookingRequest) (*Booking, error)

	// ListUpcoming returns up to maxResults events that have not ended yet,
	// ordered by start time.
	ListUpcoming(ctx context.Context, calendarID string, maxResults int) ([]Event, error)
}

// EventFilter removes events that should not count against availability.
type EventFilter interface {
	Apply(events []Event) []Event
}

// busyIntervals converts events into busy intervals, preserving order.
// Transparent events and events dropped by f are skipped.
func busyIntervals(events []Event, f EventFilter) []Interval {
	if f != nil {
		events = f.Apply(events)
	}
	busy := make([]Interval, 0, len(events))
	for _, e := range events {
		if e.Transparent {
			continue
		}
		busy = append(busy, e.Interval())
	}
	return busy
}

// isEffectivelyAllDay reports whether start and end are both midnights in
// loc at least a day apart.
func isEffectivelyAllDay(start, end time.Time, loc *time.Location) bool {
	if !end.After(start) {
		return false
	}
	isMidnight := func(t time.Time) bool {
		t = t.In(loc)
		return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	}
	return isMidnight(start) && isMidnight(end)
}
