// Package availability computes bookable slots in a working-hours window and
// books meetings through a calendar provider.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cpuguy83/calslot/internal/calendar"
	"github.com/cpuguy83/calslot/internal/timeresolve"
)

// DefaultTitle is the summary of meetings created without one.
const DefaultTitle = "Meeting"

// DefaultUpcoming is the listing size when none is requested.
const DefaultUpcoming = 10

// ErrInvalidInterval is returned when a meeting does not end after it starts.
var ErrInvalidInterval = errors.New("meeting must end after it starts")

// Options configures an Engine.
type Options struct {
	CalendarID string
	Hours      Hours
}

// Engine answers availability questions and creates meetings for one
// calendar. It holds no per-request state and is safe for concurrent use
// when its provider is.
type Engine struct {
	provider   calendar.Provider
	resolver   *timeresolve.Resolver
	calendarID string
	hours      Hours
}

// NewEngine creates an engine. Zero options select the primary calendar
// and DefaultHours.
func NewEngine(p calendar.Provider, r *timeresolve.Resolver, opts Options) *Engine {
	if opts.CalendarID == "" {
		opts.CalendarID = calendar.PrimaryCalendar
	}
	if opts.Hours == (Hours{}) {
		opts.Hours = DefaultHours
	}
	return &Engine{
		provider:   p,
		resolver:   r,
		calendarID: opts.CalendarID,
		hours:      opts.Hours,
	}
}

// Resolver returns the time resolver the engine interprets days with.
func (e *Engine) Resolver() *timeresolve.Resolver {
	return e.resolver
}

// Window returns the working-hours window for day.
func (e *Engine) Window(day string) DayWindow {
	return NewDayWindow(e.resolver.Anchor(day), e.resolver.Location(), e.hours)
}

// FindAvailableSlots returns free slots of durationMinutes on day.
// A non-positive duration uses DefaultDurationMinutes. An empty result
// means the day is fully booked.
func (e *Engine) FindAvailableSlots(ctx context.Context, durationMinutes int, day string) ([]calendar.Interval, error) {
	if durationMinutes <= 0 {
		durationMinutes = DefaultDurationMinutes
	}

	w := e.Window(day)
	busy, err := e.provider.QueryBusy(ctx, e.calendarID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query busy intervals from %s: %w", e.provider.Name(), err)
	}

	slots := FindSlots(w, time.Duration(durationMinutes)*time.Minute, busy)
	slog.Debug("computed free slots",
		"provider", e.provider.Name(),
		"calendar", e.calendarID,
		"window_start", w.Start,
		"busy", len(busy),
		"slots", len(slots),
	)
	return slots, nil
}

// CreateMeeting books [start, end) with title. Times are sent in UTC with
// the local zone name attached. Availability is not re-checked.
func (e *Engine) CreateMeeting(ctx context.Context, start, end time.Time, title string) (*calendar.Booking, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s, end %s", ErrInvalidInterval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if title == "" {
		title = DefaultTitle
	}

	loc := e.resolver.Location()
	b, err := e.provider.CreateEvent(ctx, e.calendarID, calendar.BookingRequest{
		Start:    start.UTC(),
		End:      end.UTC(),
		Summary:  title,
		TimeZone: loc.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("create event on %s: %w", e.provider.Name(), err)
	}

	b.Start = b.Start.In(loc)
	b.End = b.End.In(loc)
	slog.Info("booked meeting", "provider", e.provider.Name(), "id", b.ID, "start", b.Start, "end", b.End)
	return b, nil
}

// ListUpcoming returns up to maxResults events from now on, ordered by
// start. A non-positive maxResults uses DefaultUpcoming.
func (e *Engine) ListUpcoming(ctx context.Context, maxResults int) ([]calendar.Event, error) {
	if maxResults <= 0 {
		maxResults = DefaultUpcoming
	}
	events, err := e.provider.ListUpcoming(ctx, e.calendarID, maxResults)
	if err != nil {
		return nil, fmt.Errorf("list events from %s: %w", e.provider.Name(), err)
	}

	loc := e.resolver.Location()
	for i := range events {
		events[i].Start = events[i].Start.In(loc)
		events[i].End = events[i].End.In(loc)
	}
	return events, nil
}
