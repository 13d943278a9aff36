// Package sqlite is an index.Index on SQLite (modernc.org/sqlite, no cgo).
//
// Vectors are stored as little-endian float32 blobs and scored in process, which is plenty
// for a single city's worth of events.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/sqlitedb"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	embedding  BLOB,
	expires_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_expires_at ON events (expires_at);
`

// Index implements index.Index. expires_at is unix milliseconds, 0 meaning never.
type Index struct {
	db    *sql.DB
	opts  index.Options
	owned bool
}

var _ index.Index = (*Index)(nil)

// Open opens (or creates) the database at path.
func Open(path string, opts ...index.Option) (*Index, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	idx, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx.owned = true
	return idx, nil
}

// New uses an already open database. Close leaves it open.
func New(db *sql.DB, opts ...index.Option) (*Index, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create events schema: %w", err)
	}
	return &Index{db: db, opts: index.NewOptions(opts...)}, nil
}

// DB exposes the handle so the sqlite cache can share it.
func (s *Index) DB() *sql.DB { return s.db }

// Upsert implements index.Index.
func (s *Index) Upsert(ctx context.Context, ev event.Event) (index.UpsertResult, error) {
	if err := index.Validate(ev); err != nil {
		return 0, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = ?)`, ev.ID).Scan(&exists); err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, data, embedding, expires_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			embedding = excluded.embedding,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		ev.ID, string(data), vectorArg(ev.Embedding), expiry(ev), s.opts.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if exists {
		return index.Updated, nil
	}
	return index.Created, nil
}

// FetchByIDs implements index.Index.
func (s *Index) FetchByIDs(ctx context.Context, ids []string) ([]event.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.opts.Now().UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT data, embedding FROM events
		WHERE (expires_at = 0 OR expires_at > ?) AND id IN (%s)`,
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","))

	events, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return index.Order(ids, events), nil
}

// SimilaritySearch implements index.Index.
func (s *Index) SimilaritySearch(ctx context.Context, vec []float32, threshold float64, limit int) ([]index.Match, error) {
	events, err := s.query(ctx, `
		SELECT data, embedding FROM events
		WHERE embedding IS NOT NULL AND (expires_at = 0 OR expires_at > ?)`,
		s.opts.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	matches := make([]index.Match, 0, len(events))
	for _, ev := range events {
		matches = append(matches, index.Match{Event: ev, Score: index.Cosine(vec, ev.Embedding)})
	}
	return index.Rank(matches, threshold, limit), nil
}

// Unembedded implements index.Index.
func (s *Index) Unembedded(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `
		SELECT data, embedding FROM events
		WHERE embedding IS NULL AND (expires_at = 0 OR expires_at > ?)
		ORDER BY id LIMIT ?`,
		s.opts.Now().UnixMilli(), limit)
}

// SetEmbedding implements index.Index.
func (s *Index) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET embedding = ?, updated_at = ? WHERE id = ?`,
		vectorArg(vec), s.opts.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to set embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, index.ErrNotFound)
	}
	return nil
}

// Health pings the database.
func (s *Index) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements index.Index.
func (s *Index) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *Index) query(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events query failed: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var data string
		var blob []byte
		if err := rows.Scan(&data, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		if ev.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func expiry(ev event.Event) int64 {
	if ev.ExpiresAt.IsZero() {
		return 0
	}
	return ev.ExpiresAt.UnixMilli()
}

// vectorArg binds an empty vector as NULL.
func vectorArg(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return encodeVector(vec)
}

func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, errors.New("corrupt embedding blob")
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
