// Package qdrant is an index.Index on the Qdrant vector database (gRPC).
//
// Qdrant requires a vector on every point, so events without an embedding are stored with
// a placeholder vector and an "embedded" payload flag of false; searches filter on that
// flag. Qdrant's score threshold is inclusive, so strictness is re-applied client side.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	qd "github.com/qdrant/go-client/qdrant"

	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/index"
)

const (
	fieldEventID  = "event_id"
	fieldData     = "data"
	fieldEmbedded = "embedded"
	fieldExpires  = "expires_at"

	// neverExpires stands in for a zero ExpiresAt in range filters.
	neverExpires = math.MaxInt32 * 1000
)

// pointNamespace derives point UUIDs from event ids.
var pointNamespace = uuid.MustParse("6f1f3a8e-4c1b-5d0a-9e2f-7b3c1d2e4f50")

// Config holds Qdrant index configuration.
type Config struct {
	// Qdrant gRPC URL
	// Example: "http://localhost:6334" or "https://your-qdrant-cluster.com:6334"
	URL string

	// Collection name for events
	CollectionName string

	// Optional API key for authentication
	APIKey string

	// Vector dimension (must match embedding model output)
	VectorDimension int
}

// Index implements index.Index.
type Index struct {
	client     *qd.Client
	collection string
	dimension  int
	opts       index.Options
}

var _ index.Index = (*Index)(nil)

// New connects to Qdrant and creates the collection when missing.
func New(ctx context.Context, config Config, opts ...index.Option) (*Index, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("qdrant URL is required")
	}
	if config.CollectionName == "" {
		config.CollectionName = "events"
	}
	if config.VectorDimension <= 0 {
		config.VectorDimension = 1536
	}

	parsedURL, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant URL: %w", err)
	}
	port := 6334
	if parsedURL.Port() != "" {
		p, err := strconv.Atoi(parsedURL.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qd.NewClient(&qd.Config{
		Host:   parsedURL.Hostname(),
		Port:   port,
		APIKey: config.APIKey,
		UseTLS: parsedURL.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	idx := &Index{
		client:     client,
		collection: config.CollectionName,
		dimension:  config.VectorDimension,
		opts:       index.NewOptions(opts...),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

// PointID maps an event id to its Qdrant point id.
func PointID(eventID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(eventID)).String()
}

// Upsert implements index.Index.
func (c *Index) Upsert(ctx context.Context, ev event.Event) (index.UpsertResult, error) {
	if err := index.Validate(ev); err != nil {
		return 0, err
	}
	existing, err := c.client.Get(ctx, &qd.GetPoints{
		CollectionName: c.collection,
		Ids:            []*qd.PointId{qd.NewIDUUID(PointID(ev.ID))},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to look up event %s: %w", ev.ID, err)
	}

	point, err := c.toPoint(ev)
	if err != nil {
		return 0, err
	}
	_, err = c.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: c.collection,
		Points:         []*qd.PointStruct{point},
		Wait:           qd.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
	}
	if len(existing) > 0 {
		return index.Updated, nil
	}
	return index.Created, nil
}

// FetchByIDs implements index.Index.
func (c *Index) FetchByIDs(ctx context.Context, ids []string) ([]event.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	events, err := c.get(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()
	live := events[:0]
	for _, ev := range events {
		if !ev.Expired(now) {
			live = append(live, ev)
		}
	}
	return index.Order(ids, live), nil
}

// SimilaritySearch implements index.Index.
func (c *Index) SimilaritySearch(ctx context.Context, vec []float32, threshold float64, limit int) ([]index.Match, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("query vector is required for qdrant search")
	}
	if limit <= 0 {
		limit = 100
	}

	points, err := c.client.Query(ctx, &qd.QueryPoints{
		CollectionName: c.collection,
		Query:          qd.NewQuery(vec...),
		Filter:         c.searchable(),
		Limit:          qd.PtrOf(uint64(limit)),
		ScoreThreshold: qd.PtrOf(float32(threshold)),
		WithPayload:    qd.NewWithPayload(true),
		WithVectors:    qd.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	matches := make([]index.Match, 0, len(points))
	for _, p := range points {
		ev, err := decodePayload(p.GetPayload())
		if err != nil {
			return nil, err
		}
		ev.Embedding = denseVector(p.GetVectors())
		matches = append(matches, index.Match{Event: ev, Score: float64(p.GetScore())})
	}
	return index.Rank(matches, threshold, limit), nil
}

// Unembedded implements index.Index.
func (c *Index) Unembedded(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	points, err := c.client.Scroll(ctx, &qd.ScrollPoints{
		CollectionName: c.collection,
		Filter: &qd.Filter{
			Must: []*qd.Condition{
				qd.NewMatchBool(fieldEmbedded, false),
				c.notExpired(),
			},
		},
		Limit:       qd.PtrOf(uint32(limit)),
		WithPayload: qd.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll failed: %w", err)
	}
	events := make([]event.Event, 0, len(points))
	for _, p := range points {
		ev, err := decodePayload(p.GetPayload())
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// SetEmbedding implements index.Index.
func (c *Index) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	events, err := c.get(ctx, []string{id}, false)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("%s: %w", id, index.ErrNotFound)
	}
	ev := events[0]
	ev.Embedding = vec
	ev.UpdatedAt = c.opts.Now()
	_, err = c.Upsert(ctx, ev)
	return err
}

// Health checks that the server answers.
func (c *Index) Health(ctx context.Context) error {
	if _, err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check error %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (c *Index) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close qdrant error %w", err)
	}
	return nil
}

func (c *Index) ensureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", c.collection, err)
	}
	if exists {
		return nil
	}
	err = c.client.CreateCollection(ctx, &qd.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
			Size:     uint64(c.dimension),
			Distance: qd.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", c.collection, err)
	}
	return nil
}

func (c *Index) get(ctx context.Context, ids []string, withVectors bool) ([]event.Event, error) {
	pointIDs := make([]*qd.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qd.NewIDUUID(PointID(id))
	}
	points, err := c.client.Get(ctx, &qd.GetPoints{
		CollectionName: c.collection,
		Ids:            pointIDs,
		WithPayload:    qd.NewWithPayload(true),
		WithVectors:    qd.NewWithVectors(withVectors),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get failed: %w", err)
	}
	events := make([]event.Event, 0, len(points))
	for _, p := range points {
		ev, err := decodePayload(p.GetPayload())
		if err != nil {
			return nil, err
		}
		if p.GetPayload()[fieldEmbedded].GetBoolValue() {
			ev.Embedding = denseVector(p.GetVectors())
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Index) searchable() *qd.Filter {
	return &qd.Filter{
		Must: []*qd.Condition{
			qd.NewMatchBool(fieldEmbedded, true),
			c.notExpired(),
		},
	}
}

func (c *Index) notExpired() *qd.Condition {
	return qd.NewRange(fieldExpires, &qd.Range{
		Gt: qd.PtrOf(float64(c.opts.Now().Unix())),
	})
}

func (c *Index) toPoint(ev event.Event) (*qd.PointStruct, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}

	embedded := len(ev.Embedding) > 0
	vec := ev.Embedding
	if !embedded {
		vec = make([]float32, c.dimension)
		vec[0] = 1
	}

	expires := int64(neverExpires)
	if !ev.ExpiresAt.IsZero() {
		expires = ev.ExpiresAt.Unix()
	}

	return &qd.PointStruct{
		Id:      qd.NewIDUUID(PointID(ev.ID)),
		Vectors: qd.NewVectors(vec...),
		Payload: map[string]*qd.Value{
			fieldEventID:  qd.NewValueString(ev.ID),
			fieldData:     qd.NewValueString(string(data)),
			fieldEmbedded: qd.NewValueBool(embedded),
			fieldExpires:  qd.NewValueInt(expires),
			"category":    qd.NewValueString(string(ev.Category)),
		},
	}, nil
}

func decodePayload(payload map[string]*qd.Value) (event.Event, error) {
	var ev event.Event
	data := payload[fieldData].GetStringValue()
	if data == "" {
		return ev, fmt.Errorf("point %s has no event data", payload[fieldEventID].GetStringValue())
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

func denseVector(v *qd.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	out := v.GetVector()
	if out == nil {
		return nil
	}
	if dense := out.GetDense(); dense != nil {
		return dense.GetData()
	}
	return out.GetData()
}
