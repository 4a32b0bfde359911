package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			return nil, errors.New("unknown text")
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// flakyIndex wraps an Index and fails selected operations.
type flakyIndex struct {
	Index
	upsertErr error
	getErr    error
	searchErr error
	deleteErr error
	infoErr   error

	searchLimits []int
	hits         []ScoredPoint
}

func (f *flakyIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Index.Upsert(ctx, collection, points)
}

func (f *flakyIndex) Get(ctx context.Context, collection string, ids []uint64) ([]Point, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Index.Get(ctx, collection, ids)
}

func (f *flakyIndex) Delete(ctx context.Context, collection string, ids []uint64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Index.Delete(ctx, collection, ids)
}

func (f *flakyIndex) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.Index.CollectionInfo(ctx, name)
}

func (f *flakyIndex) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	f.searchLimits = append(f.searchLimits, limit)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.hits != nil {
		return f.hits, nil
	}
	return f.Index.Search(ctx, collection, vector, limit)
}

const testNamespace = "bot_42_knowledge"

func newTestIndex(t *testing.T, dimension int) *ChromemIndex {
	t.Helper()
	idx := NewChromemIndex(nil)
	require.NoError(t, idx.CreateCollection(context.Background(), testNamespace, dimension, MetricCosine))
	return idx
}
