// Package event defines the Event record shared by the index, the pipeline and the crawler,
// plus the loosely typed Raw form produced by model extraction.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Category is the closed set of event categories.
type Category string

const (
	Music    Category = "music"
	Food     Category = "food"
	Art      Category = "art"
	Outdoor  Category = "outdoor"
	Party    Category = "party"
	Wellness Category = "wellness"
	Fashion  Category = "fashion"
	Sports   Category = "sports"
	Comedy   Category = "comedy"
	Other    Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{Music, Food, Art, Outdoor, Party, Wellness, Fashion, Sports, Comedy, Other}

// ParseCategory normalizes free text to a Category. Unknown values map to Other.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return Other
}

// Origin records which path created an event.
type Origin string

const (
	OriginUser       Origin = "user"
	OriginCrawl      Origin = "crawl"
	OriginDiscovered Origin = "discovered"
)

// UndatedHorizon is how long an undated discovered event stays in the index.
const UndatedHorizon = 14 * 24 * time.Hour

// Event is a single indexed listing.
//
// An event with a nil Embedding is stored but not searchable.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Category    Category   `json:"category"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Location    string     `json:"location,omitempty"`
	Venue       string     `json:"venue,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Price       string     `json:"price,omitempty"`
	Link        string     `json:"link,omitempty"`
	Origin      Origin     `json:"origin"`
	Embedding   []float32  `json:"-"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CrawledAt   time.Time  `json:"crawledAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Indexed reports whether the event carries an embedding.
func (e *Event) Indexed() bool {
	return len(e.Embedding) > 0
}

// Undated reports whether the event has no structured start date.
func (e *Event) Undated() bool {
	return e.Start == nil
}

// Expired reports whether the event has aged out at now. A zero ExpiresAt never expires.
func (e *Event) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// DedupKey is the lower-cased trimmed title plus the start date (YYYY-MM-DD), or
// "undated" when there is no start date. Same title on different dates stays distinct.
func (e *Event) DedupKey() string {
	return DedupKey(e.Title, e.Start)
}

// DedupKey builds the composite dedup key from its parts.
func DedupKey(title string, start *time.Time) string {
	day := "undated"
	if start != nil {
		day = start.Format(time.DateOnly)
	}
	return strings.ToLower(strings.TrimSpace(title)) + "|" + day
}

// IDFor derives a stable event id from the dedup key so repeated sightings of the same
// listing upsert one row.
func IDFor(title string, start *time.Time) string {
	sum := sha256.Sum256([]byte(DedupKey(title, start)))
	return hex.EncodeToString(sum[:16])
}

// EmbeddingText is the document text embedded for similarity search.
func (e *Event) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(e.Title)
	if e.Category != "" {
		b.WriteString(". Category: ")
		b.WriteString(string(e.Category))
	}
	if len(e.Tags) > 0 {
		b.WriteString(". Vibe: ")
		b.WriteString(strings.Join(e.Tags, ", "))
	}
	if place := e.Place(); place != "" {
		b.WriteString(". Where: ")
		b.WriteString(place)
	}
	if e.Start != nil {
		b.WriteString(". When: ")
		b.WriteString(e.Start.Format("Monday 2 January 2006 15:04"))
	}
	if e.Description != "" {
		b.WriteString(". ")
		b.WriteString(e.Description)
	}
	return b.String()
}

// Place joins venue and location.
func (e *Event) Place() string {
	switch {
	case e.Venue != "" && e.Location != "":
		return e.Venue + ", " + e.Location
	case e.Venue != "":
		return e.Venue
	default:
		return e.Location
	}
}

// Candidate is the trimmed view handed to the formatter and returned to clients.
// It never carries the vector.
type Candidate struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Date        string   `json:"date,omitempty"`
	Location    string   `json:"location,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    Category `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Price       string   `json:"price,omitempty"`
	Link        string   `json:"link,omitempty"`
}

// Candidate returns the trimmed view of e.
func (e *Event) Candidate() Candidate {
	c := Candidate{
		ID:          e.ID,
		Title:       e.Title,
		Location:    e.Place(),
		Description: e.Description,
		Category:    e.Category,
		Tags:        e.Tags,
		Price:       e.Price,
		Link:        e.Link,
	}
	if e.Start != nil {
		c.Date = e.Start.Format(time.RFC3339)
	}
	return c
}

// Candidates maps events to their trimmed views.
func Candidates(events []Event) []Candidate {
	out := make([]Candidate, len(events))
	for i := range events {
		out[i] = events[i].Candidate()
	}
	return out
}
