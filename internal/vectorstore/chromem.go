package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/identity"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
)

// ChromemIndex implements Index on an in-process chromem-go database.
//
// chromem-go only ranks by cosine similarity and keeps no per-collection
// dimension, so the index tracks collection shape itself. Vectors are always
// supplied by the caller; the embedding function is never invoked.
type ChromemIndex struct {
	db     *chromem.DB
	logger *logging.Logger

	mu    sync.RWMutex
	shape map[string]CollectionInfo
}

// NewChromemIndex creates an empty in-memory index.
func NewChromemIndex(logger *logging.Logger) *ChromemIndex {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ChromemIndex{
		db:     chromem.NewDB(),
		logger: logger.Named("chromem"),
		shape:  make(map[string]CollectionInfo),
	}
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index stores precomputed vectors only")
}

// CreateCollection creates a cosine collection; an existing one is left as is.
func (c *ChromemIndex) CreateCollection(ctx context.Context, name string, dimension int, metric Metric) error {
	if metric != MetricCosine {
		return fmt.Errorf("%w: chromem supports cosine only, got %q", ErrUnsupportedMetric, metric)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.shape[name]; ok {
		return nil
	}
	if _, err := c.db.CreateCollection(name, nil, precomputedOnly); err != nil {
		return fmt.Errorf("creating chromem collection %s: %w", name, err)
	}
	c.shape[name] = CollectionInfo{Name: name, VectorSize: dimension, Metric: metric}

	c.logger.Debug(ctx, "collection created",
		zap.String("collection", name),
		zap.Int("vector_size", dimension),
	)
	return nil
}

// CollectionInfo returns the recorded shape and the current document count.
func (c *ChromemIndex) CollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	coll, info, err := c.collection(name)
	if err != nil {
		return nil, err
	}
	info.PointsCount = uint64(coll.Count())
	return &info, nil
}

// DeleteCollection removes a collection. Absent collections are ignored.
func (c *ChromemIndex) DeleteCollection(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting chromem collection %s: %w", name, err)
	}
	delete(c.shape, name)
	return nil
}

// Upsert stores points. chromem keys documents by string, so IDs are stored
// in their decimal form.
func (c *ChromemIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	coll, info, err := c.collection(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != info.VectorSize {
			return fmt.Errorf("%w: point %d has %d dimensions, collection %s expects %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), collection, info.VectorSize)
		}
		doc := chromem.Document{
			ID:        identity.Format(p.ID),
			Embedding: p.Vector,
			Metadata:  toMetadata(p.Payload),
		}
		if err := coll.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("adding document %d: %w", p.ID, err)
		}
	}
	return nil
}

// Get returns the stored points among ids.
func (c *ChromemIndex) Get(ctx context.Context, collection string, ids []uint64) ([]Point, error) {
	coll, _, err := c.collection(collection)
	if err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		doc, err := coll.GetByID(ctx, identity.Format(id))
		if err != nil {
			// chromem reports a missing document as a plain error.
			continue
		}
		points = append(points, Point{ID: id, Vector: doc.Embedding, Payload: fromMetadata(doc.Metadata)})
	}
	return points, nil
}

// Delete removes points by ID.
func (c *ChromemIndex) Delete(ctx context.Context, collection string, ids []uint64) error {
	coll, _, err := c.collection(collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = identity.Format(id)
	}
	return coll.Delete(ctx, nil, nil, keys...)
}

// Search runs an exhaustive cosine search. chromem rejects a result count above
// the document count, so limit is clamped.
func (c *ChromemIndex) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	coll, info, err := c.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != info.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s expects %d",
			ErrDimensionMismatch, len(vector), collection, info.VectorSize)
	}
	n := min(limit, coll.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := coll.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem collection %s: %w", collection, err)
	}

	scored := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			continue
		}
		scored = append(scored, ScoredPoint{
			Point: Point{ID: id, Vector: r.Embedding, Payload: fromMetadata(r.Metadata)},
			Score: r.Similarity,
		})
	}
	return scored, nil
}

// Close is a no-op; the database lives in memory.
func (c *ChromemIndex) Close() error { return nil }

func (c *ChromemIndex) collection(name string) (*chromem.Collection, CollectionInfo, error) {
	c.mu.RLock()
	info, ok := c.shape[name]
	c.mu.RUnlock()
	if !ok {
		return nil, CollectionInfo{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	coll := c.db.GetCollection(name, precomputedOnly)
	if coll == nil {
		return nil, CollectionInfo{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return coll, info, nil
}

func toMetadata(payload map[string]interface{}) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	m := make(map[string]string, len(payload))
	for k := range payload {
		if s := stringField(payload, k); s != "" {
			m[k] = s
		}
	}
	return m
}

func fromMetadata(m map[string]string) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	payload := make(map[string]interface{}, len(m))
	for k, v := range m {
		payload[k] = v
	}
	return payload
}

var _ Index = (*ChromemIndex)(nil)
