package crawler

import (
	"time"

	"github.com/google/uuid"

	"github.com/calque-ai/eventscout/pkg/event"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Window rejection and acceptance reasons recorded in Summary.Reasons.
const (
	ReasonPast      = "past"
	ReasonBeyond    = "beyond window"
	ReasonUndated   = "undated"
	ReasonInWindow  = "in window"
	ReasonDuplicate = "duplicate"
)

// Target is one category search of a crawl.
type Target struct {
	Label    string         `yaml:"label" json:"label"`
	Category event.Category `yaml:"category" json:"category"`
}

// Job tracks one target within a run. Counts:
//   - Found: events the search returned
//   - Unique: of those, first sightings in this run
//   - Filtered: unique events rejected by the window
//   - Stored: newly created in the index
//   - Duplicate: already in the index (updated)
//   - Errors: events that failed to embed or store
type Job struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Category   event.Category `json:"category"`
	Status     Status         `json:"status"`
	Found      int            `json:"found"`
	Unique     int            `json:"unique"`
	Filtered   int            `json:"filtered"`
	Stored     int            `json:"stored"`
	Duplicate  int            `json:"duplicate"`
	Errors     int            `json:"errors"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Error      string         `json:"error,omitempty"`
}

func newJob(t Target, now time.Time) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Label:     t.Label,
		Category:  t.Category,
		Status:    StatusRunning,
		StartedAt: now,
	}
}

func (j *Job) fail(err error, now time.Time) {
	j.Status = StatusFailed
	j.Error = err.Error()
	j.FinishedAt = now
}

func (j *Job) complete(now time.Time) {
	if j.Status == StatusRunning {
		j.Status = StatusCompleted
	}
	j.FinishedAt = now
}

// Summary aggregates one crawl run.
type Summary struct {
	Jobs      []*Job         `json:"jobs"`
	Window    Window         `json:"window"`
	Found     int            `json:"found"`
	Unique    int            `json:"unique"`
	Filtered  int            `json:"filtered"`
	Embedded  int            `json:"embedded"`
	Stored    int            `json:"stored"`
	Duplicate int            `json:"duplicate"`
	Errors    int            `json:"errors"`
	Failed    int            `json:"failedJobs"`
	Swept     int            `json:"sweptCacheEntries"`
	Reasons   map[string]int `json:"reasons"`
	StartedAt time.Time      `json:"startedAt"`
	Duration  time.Duration  `json:"duration"`
}

// Job returns the job for label.
func (s *Summary) Job(label string) (*Job, bool) {
	for _, j := range s.Jobs {
		if j.Label == label {
			return j, true
		}
	}
	return nil, false
}

// DefaultTargets is one search per category, scoped to area when set.
func DefaultTargets(area string) []Target {
	where := "near me"
	if area != "" {
		where = "in " + area
	}
	labels := map[event.Category]string{
		event.Music:    "live music and concerts",
		event.Food:     "food festivals, markets and tastings",
		event.Art:      "art exhibitions and gallery openings",
		event.Outdoor:  "outdoor activities and guided walks",
		event.Party:    "parties and club nights",
		event.Wellness: "yoga, meditation and wellness sessions",
		event.Fashion:  "fashion shows and pop-up markets",
		event.Sports:   "sports matches and community runs",
		event.Comedy:   "stand-up comedy shows",
	}
	targets := make([]Target, 0, len(labels))
	for _, c := range event.Categories {
		if l, ok := labels[c]; ok {
			targets = append(targets, Target{Label: l + " " + where, Category: c})
		}
	}
	return targets
}
