// Package scheduler exposes the operations a conversational front end calls:
// checking availability, scheduling a meeting and listing upcoming events.
// Inputs are loose strings; results are JSON-ready.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cpuguy83/calslot/internal/availability"
	"github.com/cpuguy83/calslot/internal/calendar"
	"github.com/cpuguy83/calslot/internal/links"
)

// Defaults for omitted arguments.
const (
	DefaultDuration = "60 minutes"
	DefaultDay      = "today"
	DefaultTitle    = "New Meeting"
)

// Slot is a free interval formatted as RFC 3339 in the local zone.
type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// AvailabilityResult is returned by CheckAvailability.
type AvailabilityResult struct {
	AvailableSlots []Slot `json:"available_slots"`
}

// ScheduleResult is returned by ScheduleMeeting.
type ScheduleResult struct {
	EventLink string            `json:"event_link"`
	Event     *calendar.Booking `json:"event"`
}

// EventSummary is one upcoming event. All-day events use plain dates.
type EventSummary struct {
	ID          string      `json:"id"`
	Summary     string      `json:"summary"`
	Start       string      `json:"start"`
	End         string      `json:"end"`
	MeetingLink *links.Link `json:"meeting_link,omitempty"`
}

// UpcomingResult is returned by ListUpcoming.
type UpcomingResult struct {
	Events []EventSummary `json:"events"`
}

// BookingObserver is told about every meeting that was created.
type BookingObserver interface {
	BookingCreated(ctx context.Context, b *calendar.Booking) error
}

// Scheduler wraps an availability engine with caller-facing defaults.
type Scheduler struct {
	engine   *availability.Engine
	observer BookingObserver
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver registers o to hear about new bookings. Observer failures
// are logged and do not fail the booking.
func WithObserver(o BookingObserver) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// New creates a Scheduler.
func New(engine *availability.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{engine: engine}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CheckAvailability lists free slots of duration on day.
func (s *Scheduler) CheckAvailability(ctx context.Context, duration, day string) (*AvailabilityResult, error) {
	if duration == "" {
		duration = DefaultDuration
	}
	if day == "" {
		day = DefaultDay
	}

	slots, err := s.engine.FindAvailableSlots(ctx, availability.ParseDuration(duration), day)
	if err != nil {
		return nil, err
	}

	res := &AvailabilityResult{AvailableSlots: make([]Slot, 0, len(slots))}
	for _, sl := range slots {
		res.AvailableSlots = append(res.AvailableSlots, Slot{
			Start: sl.Start.Format(time.RFC3339),
			End:   sl.End.Format(time.RFC3339),
		})
	}
	return res, nil
}

// ScheduleMeeting books a meeting at day (joined with clock, when given)
// lasting duration.
func (s *Scheduler) ScheduleMeeting(ctx context.Context, duration, day, clock, title string) (*ScheduleResult, error) {
	if duration == "" {
		duration = DefaultDuration
	}
	if day == "" {
		day = DefaultDay
	}
	if title == "" {
		title = DefaultTitle
	}

	text := day
	if clock = strings.TrimSpace(clock); clock != "" {
		text = day + " " + clock
	}

	start := s.engine.Resolver().Resolve(text)
	end := start.Add(time.Duration(availability.ParseDuration(duration)) * time.Minute)

	b, err := s.engine.CreateMeeting(ctx, start, end, title)
	if err != nil {
		return nil, err
	}

	if s.observer != nil {
		if err := s.observer.BookingCreated(ctx, b); err != nil {
			slog.Warn("booking observer failed", "id", b.ID, "error", err)
		}
	}
	return &ScheduleResult{EventLink: b.Link, Event: b}, nil
}

// ListUpcoming returns up to maxResults upcoming events.
func (s *Scheduler) ListUpcoming(ctx context.Context, maxResults int) (*UpcomingResult, error) {
	events, err := s.engine.ListUpcoming(ctx, maxResults)
	if err != nil {
		return nil, err
	}

	res := &UpcomingResult{Events: make([]EventSummary, 0, len(events))}
	for _, e := range events {
		layout := time.RFC3339
		if e.AllDay {
			layout = time.DateOnly
		}
		sum := EventSummary{
			ID:      e.UID,
			Summary: e.Summary,
			Start:   e.Start.Format(layout),
			End:     e.End.Format(layout),
		}
		if l, ok := links.Detect(e); ok {
			sum.MeetingLink = &l
		}
		res.Events = append(res.Events, sum)
	}
	return res, nil
}
