package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/cache"
	"github.com/calque-ai/eventscout/pkg/sqlitedb"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(sqlitedb.Memory)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	exp := time.Now().Add(time.Hour)

	got, err := s.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("Get(missing) = %q, %v; want nil, nil", got, err)
	}

	if err := s.Set(ctx, "k", []byte("v1"), exp); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v2"), exp); err != nil {
		t.Fatalf("Set (replace) failed: %v", err)
	}
	got, err = s.Get(ctx, "k")
	if err != nil || string(got) != "v2" {
		t.Fatalf("Get(k) = %q, %v; want v2", got, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Errorf("Get after Delete = %q, want nil", got)
	}
}

func TestStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2025, 11, 9, 12, 0, 0, 0, time.UTC)

	_ = s.Set(ctx, "expired", []byte("a"), now.Add(-time.Minute))
	_ = s.Set(ctx, "boundary", []byte("b"), now)
	_ = s.Set(ctx, "live", []byte("c"), now.Add(time.Minute))

	n, err := s.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
	if got, _ := s.Get(ctx, "live"); string(got) != "c" {
		t.Errorf("live entry = %q, want c", got)
	}
}

func TestCacheOverSQLite(t *testing.T) {
	ctx := context.Background()
	c := cache.New(newStore(t))

	if err := c.Put(ctx, "Jazz tonight", []string{"e1", "e2"}, "two gigs"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	entry, ok, err := c.Get(ctx, "jazz   TONIGHT")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want hit", ok, err)
	}
	if entry.Text != "two gigs" || len(entry.EventIDs) != 2 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestNewSharesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scout.db")
	db, err := sqlitedb.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	s, err := New(db)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// The shared handle stays usable.
	if err := db.Ping(); err != nil {
		t.Errorf("db closed by Store.Close: %v", err)
	}
}
