package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/config"
	"github.com/calque-ai/eventscout/pkg/event"
)

func TestReadEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	data := `[
		{"title": "Jazz Night", "category": "music", "date": "2030-11-05T20:00:00Z", "venue": "Blue Room"},
		{"title": "  ", "date": "2030-11-06"},
		{"title": "Pop-up Market", "date": "See Website", "url": "https://example.com/market"}
	]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	events, err := readEvents(path, &config.Config{Location: time.UTC})
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (blank title dropped)", len(events))
	}
	if events[0].Origin != event.OriginUser || events[0].Category != event.Music {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Start != nil || events[1].Link != "https://example.com/market" {
		t.Errorf("undated event = %+v", events[1])
	}
}

func TestReadEventsRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	if err := os.WriteFile(path, []byte(`{"title":`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readEvents(path, &config.Config{Location: time.UTC}); err == nil {
		t.Fatal("expected a parse error")
	}
	if _, err := readEvents(filepath.Join(t.TempDir(), "missing.json"), &config.Config{Location: time.UTC}); err == nil {
		t.Fatal("expected a read error")
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "crawl": false, "seed": false, "version": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %s command", name)
		}
	}

	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
}
