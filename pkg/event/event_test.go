package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	tests := map[string]Category{
		"music":     Music,
		" Wellness": Wellness,
		"COMEDY":    Comedy,
		"nightlife": Other,
		"":          Other,
	}
	for in, want := range tests {
		if got := ParseCategory(in); got != want {
			t.Errorf("ParseCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string // YYYY-MM-DD or YYYY-MM-DD hh:mm, "" for undated
	}{
		{"2025-11-09", "2025-11-09"},
		{"2025-11-09T20:00:00Z", "2025-11-09"},
		{"2025-11-09 20:00", "2025-11-09"},
		{"Nov 9, 2025", "2025-11-09"},
		{"November 9, 2025", "2025-11-09"},
		{"9 November 2025", "2025-11-09"},
		{"Sunday, November 9, 2025", "2025-11-09"},
		{"Nov 9 2025 8pm", "2025-11-09 20:00"},
		{"Nov 9, 2025 8:00pm", "2025-11-09 20:00"},
		{"Nov 9, 2025 8 p.m.", "2025-11-09 20:00"},
		{"Nov 9, 2025 9:30am", "2025-11-09 09:30"},
		{"November 9, 2025 at 8:00 PM", "2025-11-09 20:00"},
		{"Sunday, November 9, 2025 at 7:30 PM", "2025-11-09 19:30"},
		{"2025-11-09T20:00Z", "2025-11-09 20:00"},
		{"2025-11-09T20:00+01:00", "2025-11-09 20:00"},
		{"2025-11-09 8pm", "2025-11-09 20:00"},
		{"See Website", ""},
		{"TBA", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseDate(tt.in, time.UTC)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("ParseDate(%q) = %v, want undated", tt.in, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseDate(%q) = nil, want %s", tt.in, tt.want)
			}
			layout := time.DateOnly
			if len(tt.want) > len(time.DateOnly) {
				layout = "2006-01-02 15:04"
			}
			if got.Format(layout) != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format(layout), tt.want)
			}
		})
	}
}

func TestDedupKey(t *testing.T) {
	d1 := time.Date(2025, 11, 3, 19, 0, 0, 0, time.UTC)
	d1Later := time.Date(2025, 11, 3, 22, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 11, 4, 19, 0, 0, 0, time.UTC)

	if DedupKey("  Jazz Night ", &d1) != DedupKey("jazz night", &d1Later) {
		t.Error("same title and day should share a key regardless of case, spacing and hour")
	}
	if DedupKey("Jazz Night", &d1) == DedupKey("Jazz Night", &d2) {
		t.Error("same title on different days must be distinct")
	}
	if !strings.HasSuffix(DedupKey("Jazz Night", nil), "|undated") {
		t.Error("undated key should end in |undated")
	}
	if IDFor("Jazz Night", &d1) != IDFor("jazz night ", &d1) {
		t.Error("IDFor should follow the dedup key")
	}
}

func TestRawNormalize(t *testing.T) {
	now := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)

	t.Run("dated", func(t *testing.T) {
		ev := Raw{
			Title:    " Sunrise Yoga ",
			Category: "Wellness",
			Date:     "2025-11-08",
			Tags:     []string{"Chill", "chill", " outdoors ", ""},
			URL:      "https://example.com/yoga",
		}.Normalize(OriginDiscovered, now, time.UTC)

		if ev.Title != "Sunrise Yoga" || ev.Category != Wellness || ev.Origin != OriginDiscovered {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Link != "https://example.com/yoga" {
			t.Errorf("Link = %q, want url fallback", ev.Link)
		}
		if len(ev.Tags) != 2 || ev.Tags[0] != "chill" || ev.Tags[1] != "outdoors" {
			t.Errorf("Tags = %v", ev.Tags)
		}
		want := time.Date(2025, 11, 9, 0, 0, 0, 0, time.UTC)
		if !ev.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", ev.ExpiresAt, want)
		}
		if ev.ID != IDFor("Sunrise Yoga", ev.Start) {
			t.Error("ID not derived from dedup key")
		}
	})

	t.Run("undated", func(t *testing.T) {
		ev := Raw{Title: "Pop-up market", Date: "See Website"}.Normalize(OriginCrawl, now, time.UTC)
		if !ev.Undated() {
			t.Fatal("expected undated event")
		}
		if !ev.ExpiresAt.Equal(now.Add(UndatedHorizon)) {
			t.Errorf("ExpiresAt = %v", ev.ExpiresAt)
		}
		if ev.Category != Other {
			t.Errorf("Category = %q, want other", ev.Category)
		}
	})
}

func TestCandidateOmitsVector(t *testing.T) {
	start := time.Date(2025, 11, 8, 10, 0, 0, 0, time.UTC)
	ev := Event{
		ID:        "e1",
		Title:     "Yoga in the park",
		Category:  Wellness,
		Start:     &start,
		Venue:     "Bryant Park",
		Location:  "New York",
		Embedding: []float32{0.1, 0.2},
	}

	b, err := json.Marshal(ev.Candidate())
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if strings.Contains(s, "embedding") || strings.Contains(s, "0.1") {
		t.Errorf("candidate leaks vector: %s", s)
	}
	if !strings.Contains(s, `"location":"Bryant Park, New York"`) {
		t.Errorf("candidate location = %s", s)
	}

	b, _ = json.Marshal(ev)
	if strings.Contains(string(b), "0.1") {
		t.Errorf("event JSON leaks vector: %s", b)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"zero never expires", time.Time{}, false},
		{"future", now.Add(time.Hour), false},
		{"past", now.Add(-time.Hour), true},
		{"exactly now", now, true},
	}
	for _, tt := range tests {
		ev := Event{ExpiresAt: tt.expiresAt}
		if got := ev.Expired(now); got != tt.want {
			t.Errorf("%s: Expired() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
