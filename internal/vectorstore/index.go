package vectorstore

import (
	"context"
	"fmt"
)

// Metric is the distance function a collection is created with.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricEuclid Metric = "euclid"
)

// ParseMetric maps a configuration string onto a Metric. Empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricDot, MetricEuclid:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, s)
	}
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	VectorSize  int    `json:"vector_size"`
	Metric      Metric `json:"metric"`
	PointsCount uint64 `json:"points_count"`
}

// Point is one vector with its raw payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint is a search hit. Higher scores are more similar.
type ScoredPoint struct {
	Point
	Score float32
}

// Index is the similarity backend the adapter and collection manager drive.
//
// Implementations must be safe for concurrent use and must:
//   - return ErrCollectionNotFound from CollectionInfo for absent collections;
//   - treat CreateCollection on an existing collection as a no-op;
//   - treat DeleteCollection on an absent collection as a no-op;
//   - wrap transport failures in ErrStoreUnavailable;
//   - return Search hits ordered by descending score.
type Index interface {
	CreateCollection(ctx context.Context, name string, dimension int, metric Metric) error
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error

	// Upsert writes points, overwriting any point with the same ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Get returns the points that exist among ids. Missing IDs are omitted.
	Get(ctx context.Context, collection string, ids []uint64) ([]Point, error)

	// Delete removes points by ID. Absent IDs are ignored.
	Delete(ctx context.Context, collection string, ids []uint64) error

	// Search returns up to limit nearest neighbours of vector.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error)

	Close() error
}
