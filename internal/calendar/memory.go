package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider keeps events in process memory. It backs dry runs and tests.
// Busy intervals are reported in insertion order, like a backend that does
// not sort its results.
type MemoryProvider struct {
	name   string
	filter EventFilter
	now    func() time.Time

	mu      sync.Mutex
	events  map[string][]Event
	created []BookingRequest
	seq     int
	err     error
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider(name string, filter EventFilter) *MemoryProvider {
	return &MemoryProvider{
		name:   name,
		filter: filter,
		now:    time.Now,
		events: make(map[string][]Event),
	}
}

// SetClock replaces the provider's notion of now.
func (m *MemoryProvider) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Add appends events to calendarID.
func (m *MemoryProvider) Add(calendarID string, events ...Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[calendarID] = append(m.events[calendarID], events...)
}

// AddBusy appends opaque busy periods to calendarID.
func (m *MemoryProvider) AddBusy(calendarID string, busy ...Interval) {
	for _, b := range busy {
		m.Add(calendarID, Event{Summary: "busy", Start: b.Start, End: b.End})
	}
}

// FailWith makes every subsequent call return err. A nil err clears it.
func (m *MemoryProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Created returns the booking requests received so far.
func (m *MemoryProvider) Created() []BookingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BookingRequest(nil), m.created...)
}

// Name returns the display name of this provider.
func (m *MemoryProvider) Name() string {
	return m.name
}

// QueryBusy returns busy intervals intersecting [start, end].
func (m *MemoryProvider) QueryBusy(_ context.Context, calendarID string, start, end time.Time) ([]Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	var hits []Event
	for _, e := range m.events[calendarID] {
		if e.End.After(start) && e.Start.Before(end) {
			hits = append(hits, e)
		}
	}
	return busyIntervals(hits, m.filter), nil
}

// CreateEvent stores a new event and returns its confirmation.
func (m *MemoryProvider) CreateEvent(_ context.Context, calendarID string, req BookingRequest) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	m.created = append(m.created, req)
	m.events[calendarID] = append(m.events[calendarID], Event{
		UID:     id,
		Summary: req.Summary,
		Start:   req.Start,
		End:     req.End,
		Source:  m.name + "/" + calendarID,
	})

	return &Booking{
		ID:      id,
		Summary: req.Summary,
		Start:   req.Start.UTC(),
		End:     req.End.UTC(),
		Link:    fmt.Sprintf("memory://%s/%s", calendarID, id),
	}, nil
}

// ListUpcoming returns up to maxResults events that have not ended.
func (m *MemoryProvider) ListUpcoming(_ context.Context, calendarID string, maxResults int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return upcoming(m.events[calendarID], m.now(), maxResults), nil
}

var _ Provider = (*MemoryProvider)(nil)
