package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

// IndexAdapter adapts a Client to vectorstore.Index, translating metrics,
// point types and the package sentinels.
type IndexAdapter struct {
	client Client
}

// NewIndexAdapter wraps client.
func NewIndexAdapter(client Client) *IndexAdapter {
	return &IndexAdapter{client: client}
}

// CreateCollection creates a collection with the given shape.
func (a *IndexAdapter) CreateCollection(ctx context.Context, name string, dimension int, metric vectorstore.Metric) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", vectorstore.ErrInvalidConfig)
	}
	distance, err := toDistance(metric)
	if err != nil {
		return err
	}
	return mapError(a.client.CreateCollection(ctx, name, uint64(dimension), distance))
}

// CollectionInfo returns the collection shape.
func (a *IndexAdapter) CollectionInfo(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	info, err := a.client.CollectionInfo(ctx, name)
	if err != nil {
		return nil, mapError(err)
	}
	return &vectorstore.CollectionInfo{
		Name:        info.Name,
		VectorSize:  int(info.VectorSize),
		Metric:      fromDistance(info.Distance),
		PointsCount: info.PointsCount,
	}, nil
}

// DeleteCollection deletes a collection and all its points.
func (a *IndexAdapter) DeleteCollection(ctx context.Context, name string) error {
	return mapError(a.client.DeleteCollection(ctx, name))
}

// Upsert inserts or updates points in a collection.
func (a *IndexAdapter) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	qdrantPoints := make([]*Point, len(points))
	for i, p := range points {
		qdrantPoints[i] = &Point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return mapError(a.client.Upsert(ctx, collection, qdrantPoints))
}

// Get retrieves points by their IDs.
func (a *IndexAdapter) Get(ctx context.Context, collection string, ids []uint64) ([]vectorstore.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	results, err := a.client.Get(ctx, collection, ids)
	if err != nil {
		return nil, mapError(err)
	}
	points := make([]vectorstore.Point, len(results))
	for i, r := range results {
		points[i] = vectorstore.Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload}
	}
	return points, nil
}

// Delete removes points by their IDs.
func (a *IndexAdapter) Delete(ctx context.Context, collection string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return mapError(a.client.Delete(ctx, collection, ids))
}

// Search performs similarity search in a collection.
func (a *IndexAdapter) Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	results, err := a.client.Search(ctx, collection, vector, uint64(limit))
	if err != nil {
		return nil, mapError(err)
	}
	scored := make([]vectorstore.ScoredPoint, len(results))
	for i, r := range results {
		scored[i] = vectorstore.ScoredPoint{
			Point: vectorstore.Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload},
			Score: r.Score,
		}
	}
	return scored, nil
}

// Close closes the underlying client.
func (a *IndexAdapter) Close() error {
	return a.client.Close()
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCollectionNotFound):
		return fmt.Errorf("%w: %v", vectorstore.ErrCollectionNotFound, err)
	case errors.Is(err, ErrUnavailable):
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	case errors.Is(err, ErrWrongDimension):
		return fmt.Errorf("%w: %v", vectorstore.ErrDimensionMismatch, err)
	default:
		return err
	}
}

func toDistance(m vectorstore.Metric) (qdrant.Distance, error) {
	switch m {
	case vectorstore.MetricCosine, "":
		return qdrant.Distance_Cosine, nil
	case vectorstore.MetricDot:
		return qdrant.Distance_Dot, nil
	case vectorstore.MetricEuclid:
		return qdrant.Distance_Euclid, nil
	default:
		return qdrant.Distance_UnknownDistance, fmt.Errorf("%w: %q", vectorstore.ErrUnsupportedMetric, m)
	}
}

func fromDistance(d qdrant.Distance) vectorstore.Metric {
	switch d {
	case qdrant.Distance_Cosine:
		return vectorstore.MetricCosine
	case qdrant.Distance_Dot:
		return vectorstore.MetricDot
	case qdrant.Distance_Euclid:
		return vectorstore.MetricEuclid
	default:
		return vectorstore.Metric(d.String())
	}
}

var _ vectorstore.Index = (*IndexAdapter)(nil)
