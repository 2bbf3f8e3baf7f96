package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleSource books and queries events through the Google Calendar API.
type GoogleSource struct {
	name string
	svc  *gcal.Service
	loc  *time.Location
	now  func() time.Time
}

// GoogleCredentials loads a service account key file and returns a client
// option carrying it, scoped for calendar read/write.
func GoogleCredentials(ctx context.Context, path string) (option.ClientOption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account file: %w", err)
	}
	return option.WithCredentials(creds), nil
}

// NewGoogleSource creates a Google Calendar source. Free/busy windows are
// requested in loc.
func NewGoogleSource(ctx context.Context, name string, loc *time.Location, opts ...option.ClientOption) (*GoogleSource, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleSource{
		name: name,
		svc:  svc,
		loc:  loc,
		now:  time.Now,
	}, nil
}

// Name returns the display name of this calendar source.
func (s *GoogleSource) Name() string {
	return s.name
}

// QueryBusy runs a free/busy query for calendarID over [start, end].
func (s *GoogleSource) QueryBusy(ctx context.Context, calendarID string, start, end time.Time) ([]Interval, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin:  start.In(s.loc).Format(time.RFC3339),
		TimeMax:  end.In(s.loc).Format(time.RFC3339),
		TimeZone: s.loc.String(),
		Items:    []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}

	resp, err := s.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("query free/busy: %w", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("query free/busy: calendar %q missing from response", calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("query free/busy: calendar %q: %s", calendarID, cal.Errors[0].Reason)
	}

	busy := make([]Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		bs, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			slog.Warn("skip busy period with bad start", "start", p.Start, "error", err)
			continue
		}
		be, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			slog.Warn("skip busy period with bad end", "end", p.End, "error", err)
			continue
		}
		busy = append(busy, Interval{Start: bs.In(s.loc), End: be.In(s.loc)})
	}

	slog.Debug("fetched Google busy intervals", "calendar", calendarID, "busy", len(busy))
	return busy, nil
}

// CreateEvent inserts an event with UTC start and end and default reminders.
func (s *GoogleSource) CreateEvent(ctx context.Context, calendarID string, req BookingRequest) (*Booking, error) {
	ev := &gcal.Event{
		Summary: req.Summary,
		Start: &gcal.EventDateTime{
			DateTime: req.Start.UTC().Format(time.RFC3339),
			TimeZone: req.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: req.End.UTC().Format(time.RFC3339),
			TimeZone: req.TimeZone,
		},
		Reminders: &gcal.EventReminders{UseDefault: true},
	}

	created, err := s.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	b := &Booking{
		ID:      created.Id,
		Summary: created.Summary,
		Start:   req.Start,
		End:     req.End,
		Link:    created.HtmlLink,
	}
	if t, _, err := googleTime(created.Start, s.loc); err == nil {
		b.Start = t
	}
	if t, _, err := googleTime(created.End, s.loc); err == nil {
		b.End = t
	}
	return b, nil
}

// ListUpcoming lists single (expanded) events from now, ordered by start time.
func (s *GoogleSource) ListUpcoming(ctx context.Context, calendarID string, maxResults int) ([]Event, error) {
	call := s.svc.Events.List(calendarID).
		TimeMin(s.now().UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		e, err := s.convertEvent(item, calendarID)
		if err != nil {
			slog.Warn("skip event conversion error", "id", item.Id, "error", err)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *GoogleSource) convertEvent(item *gcal.Event, calendarID string) (Event, error) {
	e := Event{
		UID:         item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Source:      fmt.Sprintf("%s/%s", s.name, calendarID),
		URL:         item.HtmlLink,
		Transparent: item.Transparency == "transparent",
	}
	if item.Organizer != nil {
		e.Organizer = item.Organizer.Email
	}

	start, allDay, err := googleTime(item.Start, s.loc)
	if err != nil {
		return e, fmt.Errorf("parse start: %w", err)
	}
	end, _, err := googleTime(item.End, s.loc)
	if err != nil {
		return e, fmt.Errorf("parse end: %w", err)
	}
	e.Start, e.End, e.AllDay = start, end, allDay
	return e, nil
}

// googleTime parses an EventDateTime, which holds either a dateTime or an
// all-day date.
func googleTime(edt *gcal.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, fmt.Errorf("missing date")
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return t.In(loc), false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", edt.Date, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

var _ Provider = (*GoogleSource)(nil)
