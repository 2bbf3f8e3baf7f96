// Package filter decides which provider events count as busy time.
//
// Rules describe events to ignore: an event that matches the configured
// rules (any rule in "or" mode, every rule in "and" mode) is dropped before
// busy intervals are computed, so it never blocks a slot.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cpuguy83/calslot/internal/calendar"
	"github.com/cpuguy83/calslot/internal/config"
)

// Mode values accepted in configuration.
const (
	ModeOr  = "or"
	ModeAnd = "and"
)

// Filter drops events matching its ignore rules.
type Filter struct {
	all   bool
	rules []rule
}

type rule struct {
	field string
	match func(string) bool
}

// New compiles the rules in cfg.
func New(cfg config.FilterConfig) (*Filter, error) {
	f := &Filter{}
	switch strings.ToLower(cfg.Mode) {
	case "", ModeOr:
	case ModeAnd:
		f.all = true
	default:
		return nil, fmt.Errorf("unknown filter mode %q", cfg.Mode)
	}

	for i, r := range cfg.Rules {
		if _, ok := fieldValue(calendar.Event{}, r.Field); !ok {
			return nil, fmt.Errorf("rule %d: unknown field %q", i, r.Field)
		}
		m, err := compileMatcher(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		f.rules = append(f.rules, rule{field: r.Field, match: m})
	}
	return f, nil
}

func compileMatcher(r config.FilterRule) (func(string) bool, error) {
	fold := func(s string) string { return s }
	if r.CaseInsensitive {
		fold = strings.ToLower
	}

	if r.Regex != "" {
		pattern := r.Regex
		if r.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", r.Regex, err)
		}
		return re.MatchString, nil
	}

	var cmp func(value, pattern string) bool
	var pattern string
	switch {
	case r.Exact != "":
		cmp, pattern = func(v, p string) bool { return v == p }, r.Exact
	case r.Prefix != "":
		cmp, pattern = strings.HasPrefix, r.Prefix
	case r.Suffix != "":
		cmp, pattern = strings.HasSuffix, r.Suffix
	case r.Contains != "":
		cmp, pattern = strings.Contains, r.Contains
	default:
		return nil, fmt.Errorf("no match pattern specified (use contains, exact, prefix, suffix, or regex)")
	}

	pattern = fold(pattern)
	return func(v string) bool { return cmp(fold(v), pattern) }, nil
}

// Apply returns the events that are not ignored, preserving order.
// With no rules every event is returned.
func (f *Filter) Apply(events []calendar.Event) []calendar.Event {
	if f == nil || len(f.rules) == 0 {
		return events
	}

	kept := make([]calendar.Event, 0, len(events))
	for _, e := range events {
		if !f.ignored(e) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (f *Filter) ignored(e calendar.Event) bool {
	for _, r := range f.rules {
		v, _ := fieldValue(e, r.field)
		hit := r.match(v)
		if f.all && !hit {
			return false
		}
		if !f.all && hit {
			return true
		}
	}
	return f.all
}

func fieldValue(e calendar.Event, field string) (string, bool) {
	switch field {
	case "title", "summary":
		return e.Summary, true
	case "organizer":
		return e.Organizer, true
	case "source", "calendar":
		return e.Source, true
	case "description":
		return e.Description, true
	case "location":
		return e.Location, true
	default:
		return "", false
	}
}

var _ calendar.EventFilter = (*Filter)(nil)
