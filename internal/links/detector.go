// Package links finds conference links (Zoom, Teams, Meet, Webex) in
// calendar events.
package links

import (
	"regexp"

	"github.com/cpuguy83/calslot/internal/calendar"
)

// Link is a detected meeting link.
type Link struct {
	URL     string `json:"url"`
	Service string `json:"service"`
}

type service struct {
	name string
	re   *regexp.Regexp
}

var services = []service{
	{"Zoom", regexp.MustCompile(`https?://[\w.-]*zoom\.us/j/[\w?=&-]+`)},
	{"Teams", regexp.MustCompile(`https?://teams\.microsoft\.com/l/meetup-join/[\w%/-]+`)},
	{"Meet", regexp.MustCompile(`https?://meet\.google\.com/[\w-]+`)},
	{"Webex", regexp.MustCompile(`https?://[\w.-]*\.webex\.com/[\w./-]+`)},
}

var anyURL = regexp.MustCompile(`https?://[^\s<>"]+`)

// Detect returns the meeting link of e, if any.
//
// The event URL counts only when it belongs to a known service. Location
// is searched before description, and within each field a known service
// beats a generic URL.
func Detect(e calendar.Event) (Link, bool) {
	if e.URL != "" {
		for _, s := range services {
			if s.re.MatchString(e.URL) {
				return Link{URL: e.URL, Service: s.name}, true
			}
		}
	}

	for _, text := range []string{e.Location, e.Description} {
		if l, ok := detectInText(text); ok {
			return l, true
		}
	}
	return Link{}, false
}

func detectInText(text string) (Link, bool) {
	if text == "" {
		return Link{}, false
	}
	for _, s := range services {
		if m := s.re.FindString(text); m != "" {
			return Link{URL: m, Service: s.name}, true
		}
	}
	if m := anyURL.FindString(text); m != "" {
		return Link{URL: m, Service: "Meeting"}, true
	}
	return Link{}, false
}
