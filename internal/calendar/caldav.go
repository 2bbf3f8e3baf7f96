package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const iCloudCalDAVURL = "https://caldav.icloud.com"

// CalDAVSource reads and books events on a CalDAV server.
type CalDAVSource struct {
	name     string
	url      string
	username string
	password string
	loc      *time.Location
	horizon  time.Duration
	filter   EventFilter
	now      func() time.Time

	mu        sync.Mutex
	client    *caldav.Client
	calendars []caldav.Calendar
}

// NewCalDAVSource creates a new CalDAV calendar source. Floating times are
// read in loc.
func NewCalDAVSource(name, url, username, password string, loc *time.Location, horizon time.Duration, filter EventFilter) *CalDAVSource {
	return &CalDAVSource{
		name:     name,
		url:      url,
		username: username,
		password: password,
		loc:      loc,
		horizon:  horizon,
		filter:   filter,
		now:      time.Now,
	}
}

// NewICloudSource is a CalDAV source on iCloud's server. password must be
// an app-specific password.
func NewICloudSource(name, username, password string, loc *time.Location, horizon time.Duration, filter EventFilter) *CalDAVSource {
	return NewCalDAVSource(name, iCloudCalDAVURL, username, password, loc, horizon, filter)
}

func (s *CalDAVSource) Name() string {
	return s.name
}

// QueryBusy returns busy intervals of the calendar that intersect [start, end].
func (s *CalDAVSource) QueryBusy(ctx context.Context, calendarID string, start, end time.Time) ([]Interval, error) {
	client, cal, err := s.resolveCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	events, err := s.queryEvents(ctx, client, cal, start, end)
	if err != nil {
		return nil, err
	}

	busy := busyIntervals(events, s.filter)
	slog.Debug("fetched CalDAV busy intervals", "source", s.name, "calendar", cal.Name, "busy", len(busy))
	return busy, nil
}

// CreateEvent stores a new VEVENT in the calendar.
func (s *CalDAVSource) CreateEvent(ctx context.Context, calendarID string, req BookingRequest) (*Booking, error) {
	client, cal, err := s.resolveCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	objPath := path.Join(cal.Path, uid+".ics")

	obj, err := client.PutCalendarObject(ctx, objPath, newBookingCalendar(uid, req, s.now()))
	if err != nil {
		return nil, fmt.Errorf("put calendar object: %w", err)
	}
	if obj != nil && obj.Path != "" {
		objPath = obj.Path
	}

	return &Booking{
		ID:      uid,
		Summary: req.Summary,
		Start:   req.Start.UTC(),
		End:     req.End.UTC(),
		Link:    s.objectURL(objPath),
	}, nil
}

// ListUpcoming returns up to maxResults events that have not ended.
func (s *CalDAVSource) ListUpcoming(ctx context.Context, calendarID string, maxResults int) ([]Event, error) {
	client, cal, err := s.resolveCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	events, err := s.queryEvents(ctx, client, cal, now, now.Add(s.horizon))
	if err != nil {
		return nil, err
	}
	return upcoming(events, now, maxResults), nil
}

// resolveCalendar finds the calendar named by calendarID. An empty or
// "primary" identity selects the first calendar in the home set. Failed
// discovery is retried on the next call.
func (s *CalDAVSource) resolveCalendar(ctx context.Context, calendarID string) (*caldav.Client, caldav.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		if err := s.discover(ctx); err != nil {
			return nil, caldav.Calendar{}, err
		}
	}

	cal, ok := pickCalendar(s.calendars, calendarID)
	if !ok {
		return nil, caldav.Calendar{}, fmt.Errorf("calendar %q not found on %s", calendarID, s.name)
	}
	return s.client, cal, nil
}

func (s *CalDAVSource) discover(ctx context.Context) error {
	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: 60 * time.Second}, s.username, s.password)
	client, err := caldav.NewClient(httpClient, s.url)
	if err != nil {
		return fmt.Errorf("create caldav client: %w", err)
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return fmt.Errorf("find calendars: %w", err)
	}

	slog.Debug("discovered CalDAV calendars", "source", s.name, "count", len(cals))
	s.client, s.calendars = client, cals
	return nil
}

func pickCalendar(cals []caldav.Calendar, calendarID string) (caldav.Calendar, bool) {
	if len(cals) == 0 {
		return caldav.Calendar{}, false
	}
	if calendarID == "" || calendarID == PrimaryCalendar {
		return cals[0], true
	}
	for _, c := range cals {
		if strings.EqualFold(c.Name, calendarID) || strings.TrimSuffix(c.Path, "/") == strings.TrimSuffix(calendarID, "/") {
			return c, true
		}
	}
	return caldav.Calendar{}, false
}

// eventProps are the VEVENT properties needed to expand and classify events.
var eventProps = []string{
	"UID", "SUMMARY", "DESCRIPTION", "LOCATION", "URL", "ORGANIZER", "TRANSP",
	"DTSTART", "DTEND", "DURATION", "RRULE", "RDATE", "EXDATE",
}

// queryEvents runs a calendar-query for VEVENTs in [start, end].
func (s *CalDAVSource) queryEvents(ctx context.Context, client *caldav.Client, cal caldav.Calendar, start, end time.Time) ([]Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{Name: "VEVENT", Props: eventProps}},
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT", Start: start, End: end}},
		},
	}

	objects, err := client.QueryCalendar(ctx, cal.Path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar %s: %w", cal.Name, err)
	}

	source := s.name + "/" + cal.Name
	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events = append(events, eventsFromCalendar(obj.Data, source, s.loc, start, end)...)
	}
	return events, nil
}

// objectURL resolves an object path against the server URL.
func (s *CalDAVSource) objectURL(objPath string) string {
	u, err := url.Parse(s.url)
	if err != nil {
		return objPath
	}
	u.Path = objPath
	return u.String()
}

var _ Provider = (*CalDAVSource)(nil)
