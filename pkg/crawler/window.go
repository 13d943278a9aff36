package crawler

import (
	"time"

	"github.com/calque-ai/eventscout/pkg/event"
)

// Window is the inclusive range of calendar days a crawl keeps. Start and End are
// midnights in the crawl location.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow spans from the day of now through days later.
func NewWindow(now time.Time, days int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	start := day(now, loc)
	return Window{Start: start, End: start.AddDate(0, 0, days)}
}

// Check classifies ev. Undated events are kept; dated ones are compared by calendar day,
// with both ends included.
func (w Window) Check(ev *event.Event) (keep bool, reason string) {
	if ev.Start == nil {
		return true, ReasonUndated
	}
	d := day(*ev.Start, w.Start.Location())
	switch {
	case d.Before(w.Start):
		return false, ReasonPast
	case d.After(w.End):
		return false, ReasonBeyond
	default:
		return true, ReasonInWindow
	}
}

// Expiry is when events kept by this window leave the index.
func (w Window) Expiry() time.Time {
	return w.End.Add(24 * time.Hour)
}

func day(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
