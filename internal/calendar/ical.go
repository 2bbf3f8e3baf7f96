package calendar

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	ics "github.com/emersion/go-ical"
)

const productID = "-//calslot//calslot//EN"

// decodeEvents reads every VEVENT in r and returns the occurrences that
// intersect [start, end]. Recurring events are expanded within that range.
// Floating and date-only values are read in loc.
func decodeEvents(r io.Reader, source string, loc *time.Location, start, end time.Time) ([]Event, error) {
	dec := ics.NewDecoder(r)

	var events []Event
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode ICS: %w", err)
		}
		events = append(events, eventsFromCalendar(cal, source, loc, start, end)...)
	}
	return events, nil
}

// eventsFromCalendar extracts the occurrences in [start, end] from a parsed calendar.
// Components that cannot be parsed are skipped.
func eventsFromCalendar(cal *ics.Calendar, source string, loc *time.Location, start, end time.Time) []Event {
	var events []Event
	for _, comp := range cal.Children {
		if comp.Name != ics.CompEvent {
			continue
		}

		parsed, err := parseVEvent(comp, source, loc, start, end)
		if err != nil {
			slog.Debug("skip unparseable event", "source", source, "error", err)
			continue
		}

		for _, e := range parsed {
			if e.End.After(start) && e.Start.Before(end) {
				events = append(events, e)
			}
		}
	}
	return events
}

// parseVEvent converts a VEVENT into one event per occurrence in [rangeStart, rangeEnd].
func parseVEvent(comp *ics.Component, source string, loc *time.Location, rangeStart, rangeEnd time.Time) ([]Event, error) {
	if loc == nil {
		loc = time.Local
	}

	base := Event{
		Source:      source,
		UID:         propText(comp, ics.PropUID),
		Summary:     propText(comp, ics.PropSummary),
		Description: propText(comp, ics.PropDescription),
		Location:    propText(comp, ics.PropLocation),
		URL:         propText(comp, ics.PropURL),
		Organizer:   strings.TrimPrefix(propText(comp, ics.PropOrganizer), "mailto:"),
		Transparent: strings.EqualFold(propText(comp, "TRANSP"), "TRANSPARENT"),
	}

	prop := comp.Props.Get(ics.PropDateTimeStart)
	if prop == nil {
		return nil, fmt.Errorf("event %q has no DTSTART", base.UID)
	}
	start, dateOnly, err := propTime(prop, loc)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}

	var length time.Duration
	switch {
	case comp.Props.Get(ics.PropDateTimeEnd) != nil:
		end, _, err := propTime(comp.Props.Get(ics.PropDateTimeEnd), loc)
		if err != nil {
			return nil, fmt.Errorf("parse end time: %w", err)
		}
		length = end.Sub(start)
	case comp.Props.Get(ics.PropDuration) != nil:
		length, err = comp.Props.Get(ics.PropDuration).Duration()
		if err != nil {
			return nil, fmt.Errorf("parse duration: %w", err)
		}
	case dateOnly:
		length = 24 * time.Hour
	default:
		length = time.Hour
	}

	rset, err := comp.RecurrenceSet(loc)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence: %w", err)
	}

	if rset == nil {
		base.Start = start
		base.End = start.Add(length)
		base.AllDay = dateOnly || isEffectivelyAllDay(base.Start, base.End, loc)
		return []Event{base}, nil
	}

	// Look back by the event length to catch occurrences already in progress.
	var events []Event
	for _, occ := range rset.Between(rangeStart.Add(-length), rangeEnd, true) {
		e := base
		e.Start = occ
		e.End = occ.Add(length)
		e.AllDay = dateOnly || isEffectivelyAllDay(e.Start, e.End, loc)
		e.UID = fmt.Sprintf("%s_%d", base.UID, occ.Unix())
		events = append(events, e)
	}
	return events, nil
}

// propTime parses a DATE-TIME or DATE property. Values without a zone are
// taken to be in loc. The boolean is true for date-only values.
func propTime(prop *ics.Prop, loc *time.Location) (time.Time, bool, error) {
	dateOnly := prop.ValueType() == ics.ValueDate || len(prop.Value) == len("20060102")
	t, err := prop.DateTime(loc)
	if err == nil {
		return t, dateOnly, nil
	}
	// TZIDs that are not IANA names (Outlook exports "Pacific Standard
	// Time") fail to load; read the wall clock in loc instead.
	if ft, ferr := time.ParseInLocation("20060102T150405", prop.Value, loc); ferr == nil {
		return ft, false, nil
	}
	return time.Time{}, false, err
}

func propText(comp *ics.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

// newBookingCalendar builds a VCALENDAR holding a single VEVENT for req.
// Start and end are written in UTC; the local zone is kept in X-WR-TIMEZONE.
func newBookingCalendar(uid string, req BookingRequest, now time.Time) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.Props.SetText(ics.PropVersion, "2.0")
	cal.Props.SetText(ics.PropProductID, productID)
	if req.TimeZone != "" {
		cal.Props.SetText("X-WR-TIMEZONE", req.TimeZone)
	}

	comp := ics.NewComponent(ics.CompEvent)
	comp.Props.SetText(ics.PropUID, uid)
	comp.Props.SetText(ics.PropSummary, req.Summary)
	// DTSTAMP is required by RFC 5545
	comp.Props.SetDateTime(ics.PropDateTimeStamp, now.UTC())
	comp.Props.SetDateTime(ics.PropDateTimeStart, req.Start.UTC())
	comp.Props.SetDateTime(ics.PropDateTimeEnd, req.End.UTC())

	cal.Children = append(cal.Children, comp)
	return cal
}

// upcoming returns the events that end after now, sorted by start and
// truncated to max.
func upcoming(events []Event, now time.Time, max int) []Event {
	var out []Event
	for _, e := range events {
		if e.End.After(now) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
