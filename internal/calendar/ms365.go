package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cpuguy83/calslot/internal/auth"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"

	// calendarWriteScope covers reading free/busy and creating events.
	calendarWriteScope = "Calendars.ReadWrite"

	graphTimeLayout = "2006-01-02T15:04:05"
	graphPageSize   = 500
	graphSelect     = "id,subject,bodyPreview,start,end,location,isAllDay,isCancelled,organizer,webLink,showAs"
)

// MS365Source reads free/busy and books meetings through Microsoft Graph.
type MS365Source struct {
	name     string
	clientID string
	baseURL  string
	horizon  time.Duration
	filter   EventFilter
	client   *http.Client
	now      func() time.Time

	authOnce sync.Once
	auth     auth.TokenSource
	authErr  error
}

// NewMS365Source creates a Graph-backed provider. An empty clientID uses
// the default public client.
func NewMS365Source(name, clientID string, horizon time.Duration, filter EventFilter) *MS365Source {
	return &MS365Source{
		name:     name,
		clientID: clientID,
		baseURL:  graphBaseURL,
		horizon:  horizon,
		filter:   filter,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
}

func (s *MS365Source) Name() string {
	return s.name
}

// Close releases the token source.
func (s *MS365Source) Close() error {
	if s.auth == nil {
		return nil
	}
	return s.auth.Close()
}

// QueryBusy returns the intervals of events in [start, end] that are not
// cancelled or shown as free.
func (s *MS365Source) QueryBusy(ctx context.Context, calendarID string, start, end time.Time) ([]Interval, error) {
	events, err := s.calendarView(ctx, calendarID, start, end, 0)
	if err != nil {
		return nil, err
	}
	busy := busyIntervals(events, s.filter)
	slog.Debug("fetched MS365 busy intervals", "calendar", calendarID, "events", len(events), "busy", len(busy))
	return busy, nil
}

// ListUpcoming returns up to maxResults events that have not ended.
func (s *MS365Source) ListUpcoming(ctx context.Context, calendarID string, maxResults int) ([]Event, error) {
	now := s.now()
	events, err := s.calendarView(ctx, calendarID, now, now.Add(s.horizon), maxResults)
	if err != nil {
		return nil, err
	}
	return upcoming(events, now, maxResults), nil
}

type graphNewEvent struct {
	Subject               string        `json:"subject"`
	Start                 graphDateTime `json:"start"`
	End                   graphDateTime `json:"end"`
	IsReminderOn          bool          `json:"isReminderOn"`
	OriginalStartTimeZone string        `json:"originalStartTimeZone,omitempty"`
	OriginalEndTimeZone   string        `json:"originalEndTimeZone,omitempty"`
}

func utcGraphTime(t time.Time) graphDateTime {
	return graphDateTime{DateTime: t.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
}

// CreateEvent books req with UTC times. The requester's zone is kept as the
// event's original zone so Outlook shows it in their time.
func (s *MS365Source) CreateEvent(ctx context.Context, calendarID string, req BookingRequest) (*Booking, error) {
	payload := graphNewEvent{
		Subject:               req.Summary,
		Start:                 utcGraphTime(req.Start),
		End:                   utcGraphTime(req.End),
		IsReminderOn:          true,
		OriginalStartTimeZone: req.TimeZone,
		OriginalEndTimeZone:   req.TimeZone,
	}

	var created graphEvent
	if err := s.graph(ctx, http.MethodPost, s.calendarURL(calendarID, "events"), payload, &created); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	b := &Booking{
		ID:      created.ID,
		Summary: created.Subject,
		Start:   req.Start.UTC(),
		End:     req.End.UTC(),
		Link:    created.WebLink,
	}
	if t, err := parseGraphDateTime(created.Start); err == nil {
		b.Start = t
	}
	if t, err := parseGraphDateTime(created.End); err == nil {
		b.End = t
	}
	return b, nil
}

// calendarURL builds a Graph URL under the default calendar or a named one.
func (s *MS365Source) calendarURL(calendarID, resource string) string {
	if calendarID == "" || calendarID == PrimaryCalendar {
		return s.baseURL + "/me/" + resource
	}
	return s.baseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/" + resource
}

// graph sends one authenticated request. A non-nil body is sent as JSON and
// the response is decoded into out.
func (s *MS365Source) graph(ctx context.Context, method, reqURL string, body, out any) error {
	s.authOnce.Do(func() {
		if s.auth == nil {
			s.auth, s.authErr = auth.New(ctx, s.clientID, []string{calendarWriteScope})
		}
	})
	if s.authErr != nil {
		return s.authErr
	}
	tok, err := s.auth.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	// Times come back in UTC; the engine converts them to the configured zone.
	req.Header.Set("Prefer", `outlook.timezone="UTC", outlook.body-content-type="text"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph API error: status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type graphCalendarResponse struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink,omitempty"`
}

type graphEvent struct {
	ID          string          `json:"id"`
	Subject     string          `json:"subject"`
	BodyPreview string          `json:"bodyPreview"`
	Start       graphDateTime   `json:"start"`
	End         graphDateTime   `json:"end"`
	Location    *graphLocation  `json:"location,omitempty"`
	IsAllDay    bool            `json:"isAllDay"`
	IsCancelled bool            `json:"isCancelled"`
	Organizer   *graphOrganizer `json:"organizer,omitempty"`
	WebLink     string          `json:"webLink"`
	ShowAs      string          `json:"showAs"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphOrganizer struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// calendarView reads events through calendarView, which expands recurring
// series. A positive limit stops paging once that many events are read.
func (s *MS365Source) calendarView(ctx context.Context, calendarID string, start, end time.Time, limit int) ([]Event, error) {
	top := graphPageSize
	if limit > 0 && limit < top {
		top = limit
	}
	q := url.Values{
		"startDateTime": {start.UTC().Format(time.RFC3339)},
		"endDateTime":   {end.UTC().Format(time.RFC3339)},
		"$orderby":      {"start/dateTime"},
		"$top":          {strconv.Itoa(top)},
		"$select":       {graphSelect},
	}

	var out []Event
	next := s.calendarURL(calendarID, "calendarView") + "?" + q.Encode()
	for next != "" && (limit <= 0 || len(out) < limit) {
		var page graphCalendarResponse
		if err := s.graph(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("fetch calendar view: %w", err)
		}
		for _, ge := range page.Value {
			if ge.IsCancelled {
				continue
			}
			ev, err := s.toEvent(ge)
			if err != nil {
				slog.Warn("skip malformed Graph event", "id", ge.ID, "error", err)
				continue
			}
			out = append(out, ev)
		}
		next = page.NextLink
	}
	return out, nil
}

func (s *MS365Source) toEvent(ge graphEvent) (Event, error) {
	start, err := parseGraphDateTime(ge.Start)
	if err != nil {
		return Event{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseGraphDateTime(ge.End)
	if err != nil {
		return Event{}, fmt.Errorf("end: %w", err)
	}

	ev := Event{
		UID:         ge.ID,
		Summary:     ge.Subject,
		Description: ge.BodyPreview,
		Start:       start,
		End:         end,
		Source:      s.name,
		AllDay:      ge.IsAllDay,
		URL:         ge.WebLink,
		Transparent: ge.ShowAs == "free",
	}
	if ge.Location != nil {
		ev.Location = ge.Location.DisplayName
	}
	if ge.Organizer != nil {
		ev.Organizer = ge.Organizer.EmailAddress.Address
	}
	return ev, nil
}

// parseGraphDateTime reads a Graph dateTime, which is UTC because of the
// Prefer header.
func parseGraphDateTime(gdt graphDateTime) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.0000000", graphTimeLayout, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, gdt.DateTime, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q", gdt.DateTime)
}

var _ Provider = (*MS365Source)(nil)
