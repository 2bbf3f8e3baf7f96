package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ICSSource reads events from an ICS/iCal feed. Feeds are read-only, so
// CreateEvent always fails with ErrReadOnly.
type ICSSource struct {
	name     string
	url      string
	username string
	password string
	loc      *time.Location
	horizon  time.Duration
	filter   EventFilter
	client   *http.Client
	now      func() time.Time
}

// NewICSSource creates a new ICS calendar source. Floating times in the
// feed are read in loc. horizon bounds how far ahead ListUpcoming expands
// recurring events.
func NewICSSource(name, url, username, password string, loc *time.Location, horizon time.Duration, filter EventFilter) *ICSSource {
	return &ICSSource{
		name:     name,
		url:      url,
		username: username,
		password: password,
		loc:      loc,
		horizon:  horizon,
		filter:   filter,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Name returns the display name of this calendar source.
func (s *ICSSource) Name() string {
	return s.name
}

// QueryBusy returns the busy intervals in the feed that intersect [start, end].
// The calendar identity is ignored: a feed holds a single calendar.
func (s *ICSSource) QueryBusy(ctx context.Context, _ string, start, end time.Time) ([]Interval, error) {
	events, err := s.fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	busy := busyIntervals(events, s.filter)
	slog.Debug("fetched ICS busy intervals", "source", s.name, "events", len(events), "busy", len(busy))
	return busy, nil
}

// CreateEvent is not supported by ICS feeds.
func (s *ICSSource) CreateEvent(context.Context, string, BookingRequest) (*Booking, error) {
	return nil, fmt.Errorf("%s: %w", s.name, ErrReadOnly)
}

// ListUpcoming returns up to maxResults events from the feed that have not ended.
func (s *ICSSource) ListUpcoming(ctx context.Context, _ string, maxResults int) ([]Event, error) {
	now := s.now()
	events, err := s.fetch(ctx, now, now.Add(s.horizon))
	if err != nil {
		return nil, err
	}
	return upcoming(events, now, maxResults), nil
}

// fetch downloads the feed and returns the occurrences in [start, end].
func (s *ICSSource) fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ICS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ICS: status %d", resp.StatusCode)
	}

	return decodeEvents(resp.Body, s.name, s.loc, start, end)
}

var _ Provider = (*ICSSource)(nil)
