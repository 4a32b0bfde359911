// Package qdrant is the gRPC client for the Qdrant vector index.
//
// Points are addressed by unsigned 64-bit numeric IDs (see internal/identity)
// and every collection holds a single unnamed dense vector.
package qdrant

import (
	"context"
	"errors"

	"github.com/qdrant/go-client/qdrant"
)

var (
	// ErrCollectionNotFound is returned when the named collection does not exist.
	ErrCollectionNotFound = errors.New("qdrant: collection not found")

	// ErrUnavailable wraps transport failures that survived every retry.
	ErrUnavailable = errors.New("qdrant: unavailable")

	// ErrWrongDimension is Qdrant rejecting a vector whose size differs
	// from the collection's.
	ErrWrongDimension = errors.New("qdrant: wrong vector dimension")
)

// Client is the subset of Qdrant the vector store needs.
type Client interface {
	CreateCollection(ctx context.Context, name string, vectorSize uint64, distance qdrant.Distance) error
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]*ScoredPoint, error)
	Get(ctx context.Context, collection string, ids []uint64) ([]*Point, error)
	Delete(ctx context.Context, collection string, ids []uint64) error

	Health(ctx context.Context) error
	Close() error
}

// CollectionInfo describes the vector configuration of an existing collection.
type CollectionInfo struct {
	Name        string
	VectorSize  uint64
	Distance    qdrant.Distance
	PointsCount uint64
}

// Point is a vector point addressed by numeric ID.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint is a search hit. Payload is nil when the point has none.
type ScoredPoint struct {
	Point
	Score float32
}
