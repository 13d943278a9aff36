// Package memory provides an in-process cache.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/calque-ai/eventscout/pkg/cache"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Store keeps entries in a map. Expired entries stay until Sweep; cache.Cache filters them
// at read time.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry
}

var _ cache.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]entry)}
}

// Get implements cache.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), e.data...), nil
}

// Set implements cache.Store.
func (s *Store) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = entry{data: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Sweep implements cache.Store.
func (s *Store) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.data {
		if !now.Before(e.expiresAt) {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close implements cache.Store.
func (s *Store) Close() error { return nil }
