package event

import (
	"regexp"
	"strings"
	"time"
)

// Raw is an event as a model reports it: every field is free text and the date may be
// anything from an ISO timestamp to "See Website".
type Raw struct {
	Title       string   `json:"title"`
	Category    string   `json:"category,omitempty"`
	Date        string   `json:"date,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	Location    string   `json:"location,omitempty"`
	Venue       string   `json:"venue,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Price       string   `json:"price,omitempty"`
	Link        string   `json:"link,omitempty"`
	URL         string   `json:"url,omitempty"`
}

const maxTags = 6

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02 3 PM",
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 3 PM",
	"January 2, 2006 15:04",
	"January 2, 2006",
	"January 2 2006 3:04 PM",
	"January 2 2006 3 PM",
	"January 2 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3 PM",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"Jan 2 2006 3:04 PM",
	"Jan 2 2006 3 PM",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"Mon Jan 2 2006",
}

var (
	// meridiem matches "8pm", "8:00 p.m." and the like.
	meridiem = regexp.MustCompile(`(?i)(\d)\s*([ap])\.?m\b\.?`)
	// atWord joins a date to its time, as in "November 9, 2025 at 8 PM".
	atWord = regexp.MustCompile(`(?i)\s+at\s+`)
)

// canonicalDate rewrites the clock notations models vary on into the one dateLayouts
// expects: "at" dropped and the meridiem as " AM" or " PM".
func canonicalDate(s string) string {
	s = atWord.ReplaceAllString(s, " ")
	return meridiem.ReplaceAllStringFunc(s, func(m string) string {
		sub := meridiem.FindStringSubmatch(m)
		return sub[1] + " " + strings.ToUpper(sub[2]) + "M"
	})
}

// ParseDate parses the date formats models commonly emit. Text such as "See Website",
// "TBA" or "" yields nil, which callers treat as undated.
func ParseDate(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	s = canonicalDate(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}

// Normalize converts r into an Event created by origin at now. Dates are read in loc.
//
// Expiry defaults to one day after the end (or start) date, or UndatedHorizon from now for
// undated events. Callers with a better horizon, such as the crawler's window, overwrite it.
func (r Raw) Normalize(origin Origin, now time.Time, loc *time.Location) Event {
	start := ParseDate(r.Date, loc)
	end := ParseDate(r.EndDate, loc)
	if start != nil && end != nil && end.Before(*start) {
		end = nil
	}

	link := strings.TrimSpace(r.Link)
	if link == "" {
		link = strings.TrimSpace(r.URL)
	}

	title := strings.TrimSpace(r.Title)
	ev := Event{
		ID:          IDFor(title, start),
		Title:       title,
		Category:    ParseCategory(r.Category),
		Start:       start,
		End:         end,
		Location:    strings.TrimSpace(r.Location),
		Venue:       strings.TrimSpace(r.Venue),
		Description: strings.TrimSpace(r.Description),
		Tags:        cleanTags(r.Tags),
		Price:       strings.TrimSpace(r.Price),
		Link:        link,
		Origin:      origin,
		CrawledAt:   now,
		UpdatedAt:   now,
	}

	switch {
	case end != nil:
		ev.ExpiresAt = end.Add(24 * time.Hour)
	case start != nil:
		ev.ExpiresAt = start.Add(24 * time.Hour)
	default:
		ev.ExpiresAt = now.Add(UndatedHorizon)
	}
	return ev
}

func cleanTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
