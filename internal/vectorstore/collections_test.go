package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lorekeeper/internal/sanitize"
	"github.com/fyrsmithlabs/lorekeeper/internal/telemetry"
)

func newManager(t *testing.T, idx Index, dimension int) *CollectionManager {
	t.Helper()
	m, err := NewCollectionManager(idx, CollectionConfig{Dimension: dimension}, nil)
	require.NoError(t, err)
	return m
}

func TestNewCollectionManager_Validation(t *testing.T) {
	_, err := NewCollectionManager(nil, CollectionConfig{Dimension: 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCollectionManager(NewChromemIndex(nil), CollectionConfig{Dimension: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCollectionManager(NewChromemIndex(nil), CollectionConfig{Dimension: 3, Metric: "manhattan"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)

	m, err := NewCollectionManager(NewChromemIndex(nil), CollectionConfig{Dimension: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m.Config().Metric)
}

func TestVerifyCollection(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		createDim int
		create    bool
		want      bool
	}{
		{name: "matching dimension", createDim: 1536, create: true, want: true},
		{name: "smaller dimension", createDim: 768, create: true, want: false},
		{name: "absent", create: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewChromemIndex(nil)
			m := newManager(t, idx, 1536)
			if tt.create {
				require.NoError(t, m.EnsureCollection(ctx, testNamespace, tt.createDim, MetricCosine))
			}

			ok, err := m.VerifyCollection(ctx, testNamespace, 1536)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCheckCollection_Errors(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex(nil)
	m := newManager(t, idx, 4)

	assert.ErrorIs(t, m.CheckCollection(ctx, testNamespace, 4), ErrCollectionNotFound)

	require.NoError(t, m.EnsureCollection(ctx, testNamespace, 3, MetricCosine))
	assert.ErrorIs(t, m.CheckCollection(ctx, testNamespace, 4), ErrDimensionMismatch)
	assert.NoError(t, m.CheckCollection(ctx, testNamespace, 3))

	assert.ErrorIs(t, m.CheckCollection(ctx, "Bad Name", 3), sanitize.ErrInvalidNamespace)
}

func TestVerifyCollection_StoreUnavailable(t *testing.T) {
	unavailable := fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
	m := newManager(t, &flakyIndex{Index: NewChromemIndex(nil), infoErr: unavailable}, 3)

	ok, err := m.VerifyCollection(context.Background(), testNamespace, 3)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = m.EnsureCollection(context.Background(), testNamespace, 3, MetricCosine)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestEnsureCollection_LeavesExistingShape(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex(nil)
	m := newManager(t, idx, 3)

	require.NoError(t, m.EnsureCollection(ctx, testNamespace, 3, MetricCosine))
	require.NoError(t, m.EnsureCollection(ctx, testNamespace, 8, MetricCosine))

	info, err := m.Info(ctx, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, 3, info.VectorSize)
}

func TestPrepareCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("creates absent collection", func(t *testing.T) {
		m := newManager(t, NewChromemIndex(nil), 3)
		require.NoError(t, m.PrepareCollection(ctx, testNamespace))
		ok, err := m.VerifyCollection(ctx, testNamespace, 3)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("recreates mismatched collection", func(t *testing.T) {
		tel := telemetry.NewTestTelemetry(t)
		idx := NewChromemIndex(nil)
		require.NoError(t, idx.CreateCollection(ctx, testNamespace, 2, MetricCosine))
		require.NoError(t, idx.Upsert(ctx, testNamespace, []Point{{ID: 1, Vector: []float32{1, 0}}}))

		m := newManager(t, idx, 3)
		require.NoError(t, m.PrepareCollection(ctx, testNamespace))

		info, err := m.Info(ctx, testNamespace)
		require.NoError(t, err)
		assert.Equal(t, 3, info.VectorSize)
		assert.Zero(t, info.PointsCount)
		tel.AssertSpanExists(t, "vectorstore.DropCollection")
	})

	t.Run("keeps matching collection", func(t *testing.T) {
		idx := NewChromemIndex(nil)
		require.NoError(t, idx.CreateCollection(ctx, testNamespace, 3, MetricCosine))
		require.NoError(t, idx.Upsert(ctx, testNamespace, []Point{{ID: 1, Vector: []float32{1, 0, 0}}}))

		m := newManager(t, idx, 3)
		require.NoError(t, m.PrepareCollection(ctx, testNamespace))

		info, err := m.Info(ctx, testNamespace)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), info.PointsCount)
	})
}

func TestDropCollection_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, NewChromemIndex(nil), 3)

	require.NoError(t, m.DropCollection(ctx, testNamespace))
	require.NoError(t, m.EnsureCollection(ctx, testNamespace, 3, MetricCosine))
	require.NoError(t, m.DropCollection(ctx, testNamespace))

	ok, err := m.VerifyCollection(ctx, testNamespace, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{in: "", want: MetricCosine},
		{in: "cosine", want: MetricCosine},
		{in: "dot", want: MetricDot},
		{in: "euclid", want: MetricEuclid},
		{in: "hamming", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMetric(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedMetric))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
