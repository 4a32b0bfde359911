package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemIndex_CollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex(nil)

	_, err := idx.CollectionInfo(ctx, "missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, idx.CreateCollection(ctx, "c1", 3, MetricCosine))
	require.NoError(t, idx.CreateCollection(ctx, "c1", 8, MetricCosine), "existing collection is a no-op")

	info, err := idx.CollectionInfo(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, info.VectorSize)
	assert.Equal(t, MetricCosine, info.Metric)
	assert.Zero(t, info.PointsCount)

	require.NoError(t, idx.DeleteCollection(ctx, "c1"))
	require.NoError(t, idx.DeleteCollection(ctx, "c1"), "absent collection is a no-op")
	_, err = idx.CollectionInfo(ctx, "c1")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromemIndex_RejectsNonCosine(t *testing.T) {
	idx := NewChromemIndex(nil)
	err := idx.CreateCollection(context.Background(), "c1", 3, MetricDot)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

func TestChromemIndex_PointOperations(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	points := []Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{KeyStableID: "a"}},
		{ID: 2, Vector: []float32{0, 1, 0}, Payload: map[string]interface{}{KeyStableID: "b"}},
	}
	require.NoError(t, idx.Upsert(ctx, testNamespace, points))

	got, err := idx.Get(ctx, testNamespace, []uint64{1, 99})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Payload[KeyStableID])

	hits, err := idx.Search(ctx, testNamespace, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2, "limit is clamped to the document count")
	assert.Equal(t, uint64(1), hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)

	require.NoError(t, idx.Delete(ctx, testNamespace, []uint64{1}))
	info, err := idx.CollectionInfo(ctx, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.PointsCount)
}

func TestChromemIndex_DimensionChecks(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	err := idx.Upsert(ctx, testNamespace, []Point{{ID: 1, Vector: []float32{1, 0}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search(ctx, testNamespace, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemIndex_SearchEmptyCollection(t *testing.T) {
	idx := newTestIndex(t, 3)
	hits, err := idx.Search(context.Background(), testNamespace, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
