// Package timeresolve turns loosely written day and time text ("today",
// "tomorrow 3pm", "2026-10-20") into instants in the configured zone.
package timeresolve

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// ErrUnrecognized is returned by Parse when no interpretation was found.
var ErrUnrecognized = errors.New("unrecognized date/time")

// FallbackHour is the hour of day used when text cannot be resolved.
const FallbackHour = 10

// layouts are tried before natural-language parsing.
var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// Resolver interprets text relative to a clock in a fixed location.
// It is safe for concurrent use.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a resolver for loc. A nil loc means time.Local.
func New(loc *time.Location, opts ...Option) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	r := &Resolver{loc: loc, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Location returns the zone results are expressed in.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Now returns the current time in the resolver's zone.
func (r *Resolver) Now() time.Time {
	return r.now().In(r.loc)
}

// Fallback is today at 10:00 local.
func (r *Resolver) Fallback() time.Time {
	now := r.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), FallbackHour, 0, 0, 0, r.loc)
}

// Parse interprets text. Ambiguous dates prefer the future, so "Tuesday"
// on a Wednesday means next week's Tuesday.
func (r *Resolver) Parse(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrUnrecognized
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, text, r.loc); err == nil {
			return t.In(r.loc), nil
		}
	}

	// Bare clock time means today.
	if t, err := time.ParseInLocation("15:04", text, r.loc); err == nil {
		now := r.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, r.loc), nil
	}

	cfg := &dps.Configuration{
		CurrentTime:         r.Now(),
		DefaultTimezone:     r.loc,
		PreferredDateSource: dps.Future,
	}
	dt, err := dps.Parse(cfg, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrUnrecognized, text, err)
	}
	if dt.Time.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognized, text)
	}
	return dt.Time.In(r.loc), nil
}

// Resolve is Parse with a fallback: anything unparseable, including the
// empty string, resolves to today 10:00 local. It never fails.
func (r *Resolver) Resolve(text string) time.Time {
	t, err := r.Parse(text)
	if err != nil {
		fb := r.Fallback()
		slog.Debug("using fallback time", "text", text, "fallback", fb, "error", err)
		return fb
	}
	return t
}

// Anchor picks the instant whose calendar date selects a day window.
// "today" and "tomorrow" are relative to now; anything else is resolved.
func (r *Resolver) Anchor(day string) time.Time {
	switch strings.ToLower(strings.TrimSpace(day)) {
	case "today":
		return r.Now()
	case "tomorrow":
		return r.Now().Add(24 * time.Hour)
	default:
		return r.Resolve(day)
	}
}
