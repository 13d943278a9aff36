// Package badger provides a cache.Store on BadgerDB, the embedded key-value database.
//
// Badger expires keys natively: Set attaches a TTL and expired keys vanish from reads and
// iteration. Sweep therefore has nothing to count and only triggers value-log garbage
// collection to reclaim disk space.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/calque-ai/eventscout/pkg/cache"
)

const keyPrefix = "cache:"

// Store implements cache.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

var _ cache.Store = (*Store)(nil)

// Open opens the store at dir. An empty dir opens an in-memory database.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Get implements cache.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var result []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	return result, err
}

// Set implements cache.Store. An expiry already in the past stores nothing.
func (s *Store) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.Delete(context.Background(), key)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+key), value).WithTTL(ttl))
	})
}

// Delete implements cache.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

// Sweep implements cache.Store. Keys whose TTL has passed are already invisible, so the
// count is always 0.
func (s *Store) Sweep(ctx context.Context, _ time.Time) (int, error) {
	if s.db.Opts().InMemory {
		return 0, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Keys returns the live cache keys.
func (s *Store) Keys() []string {
	var keys []string
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return keys
}

// Close implements cache.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
