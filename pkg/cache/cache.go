// Package cache implements the result cache: a normalized query maps to the ordered event
// ids and summary text computed for it, for a short TTL.
//
// Expiry is enforced at read time. Sweep physically removes expired rows and is meant to
// run once per crawl cycle. Entries are stored as JSON in a byte-oriented Store, so the
// same cache runs over memory, Badger, SQLite or PostgreSQL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL keeps answers for six hours; event freshness matters more than hit rate.
const DefaultTTL = 6 * time.Hour

// Store is a byte store with per-key expiry.
type Store interface {
	// Get returns the stored value, or nil and no error when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value until expiresAt, replacing any previous value.
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	Delete(ctx context.Context, key string) error

	// Sweep deletes entries that expired at or before now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)

	Close() error
}

// Entry is one cached answer.
type Entry struct {
	Key       string    `json:"key"`
	Query     string    `json:"query"`
	EventIDs  []string  `json:"event_ids"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is no longer servable at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Cache is the result cache.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Normalize lower-cases the query, trims it and collapses inner whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Key is the storage key for query: hex sha256 of the normalized form.
func Key(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])
}

// Get returns the live entry for query. Expired and missing entries report false.
// Get never writes to the store.
func (c *Cache) Get(ctx context.Context, query string) (*Entry, bool, error) {
	data, err := c.store.Get(ctx, Key(query))
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	if entry.Expired(c.now()) {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put stores the answer for query, replacing any previous one.
func (c *Cache) Put(ctx context.Context, query string, eventIDs []string, text string) error {
	now := c.now()
	entry := Entry{
		Key:       Key(query),
		Query:     Normalize(query),
		EventIDs:  append([]string{}, eventIDs...),
		Text:      text,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.store.Set(ctx, entry.Key, data, entry.ExpiresAt); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate drops the entry for query.
func (c *Cache) Invalidate(ctx context.Context, query string) error {
	return c.store.Delete(ctx, Key(query))
}

// Sweep deletes expired entries.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	n, err := c.store.Sweep(ctx, c.now())
	if err != nil {
		return n, fmt.Errorf("cache sweep: %w", err)
	}
	return n, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
