package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

const ns = "bot_42_knowledge"

type mapEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (m mapEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m mapEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.vectors[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return v, nil
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, string, []float32, int, float32) ([]vectorstore.Match, error) {
	return nil, vectorstore.ErrStoreUnavailable
}

func seededAdapter(t *testing.T, emb mapEmbedder) *vectorstore.Adapter {
	t.Helper()
	ctx := context.Background()
	idx := vectorstore.NewChromemIndex(nil)
	require.NoError(t, idx.CreateCollection(ctx, ns, 3, vectorstore.MetricCosine))
	a, err := vectorstore.NewAdapter(idx, emb, vectorstore.AdapterConfig{}, nil)
	require.NoError(t, err)

	docs := []struct{ id, name, content string }{
		{"k1", "Opening hours", "hours"},
		{"k2", "Holiday hours", "holidays"},
		{"k3", "Refunds", "refunds"},
	}
	for _, d := range docs {
		res := a.UpsertRecord(ctx, ns, d.id, d.content, vectorstore.Payload{Kind: vectorstore.KindKnowledge, Name: d.name, Content: d.content})
		require.False(t, res.Degraded, "%v", res.Err)
	}
	return a
}

func TestRetrieve(t *testing.T) {
	emb := mapEmbedder{vectors: map[string][]float32{
		"hours":               {1, 0, 0},
		"holidays":            {0.9, 0.2, 0},
		"refunds":             {0, 0, 1},
		"when are you open?":  {1, 0.05, 0},
		"tell me about ducks": {0, 1, 0},
	}}
	r := New(emb, seededAdapter(t, emb), 0, nil)

	matches := r.Retrieve(context.Background(), "when are you open?", ns, 5, 0.7)
	require.Len(t, matches, 2)
	assert.Equal(t, "Opening hours", matches[0].SourceName)
	assert.Equal(t, "hours", matches[0].Content)
	assert.Equal(t, "k1", matches[0].StableID)
	assert.Equal(t, vectorstore.KindKnowledge, matches[0].Kind)
	for i, m := range matches {
		assert.GreaterOrEqual(t, m.RelevanceScore, 0.7)
		assert.LessOrEqual(t, m.RelevanceScore, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, matches[i-1].RelevanceScore, m.RelevanceScore)
		}
	}

	none := r.Retrieve(context.Background(), "tell me about ducks", ns, 5, 0.7)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRetrieve_DegradesToEmpty(t *testing.T) {
	tests := []struct {
		name     string
		embedder QueryEmbedder
		searcher Searcher
		stage    string
	}{
		{name: "embedding failure", embedder: mapEmbedder{err: errors.New("401")}, searcher: failingSearcher{}, stage: "embed"},
		{name: "search failure", embedder: mapEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}, searcher: failingSearcher{}, stage: "search"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logging.NewTestLogger()
			r := New(tt.embedder, tt.searcher, 0, logger.Logger)

			matches := r.Retrieve(context.Background(), "q", ns, 5, 0.7)
			assert.NotNil(t, matches)
			assert.Empty(t, matches)
			logger.AssertLogged(t, zapcore.WarnLevel, "knowledge retrieval degraded")
			logger.AssertField(t, "knowledge retrieval degraded", "stage", tt.stage)
		})
	}
}

func TestRetrieve_MissingCollectionIsEmpty(t *testing.T) {
	emb := mapEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	a, err := vectorstore.NewAdapter(vectorstore.NewChromemIndex(nil), emb, vectorstore.AdapterConfig{}, nil)
	require.NoError(t, err)

	assert.Empty(t, New(emb, a, 0, nil).Retrieve(context.Background(), "q", ns, 0, 0))
}

type recordingSearcher struct {
	hits      []vectorstore.Match
	threshold float32
}

func (s *recordingSearcher) Search(_ context.Context, _ string, _ []float32, limit int, threshold float32) ([]vectorstore.Match, error) {
	s.threshold = threshold
	var out []vectorstore.Match
	for _, h := range s.hits {
		if h.Score >= threshold && len(out) < limit {
			out = append(out, h)
		}
	}
	return out, nil
}

func TestRetrieve_ThresholdPassesThrough(t *testing.T) {
	hits := []vectorstore.Match{
		{Score: 0.9, Payload: vectorstore.Payload{Name: "close", StableID: "a"}},
		{Score: 0.4, Payload: vectorstore.Payload{Name: "far", StableID: "b"}},
	}
	emb := mapEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}

	tests := []struct {
		name      string
		threshold float64
		searched  float32
		want      int
	}{
		{name: "zero keeps every hit", threshold: 0, searched: 0, want: 2},
		{name: "explicit threshold", threshold: 0.7, searched: 0.7, want: 1},
		{name: "negative clamps to zero", threshold: -0.5, searched: 0, want: 2},
		{name: "above one clamps to one", threshold: 1.5, searched: 1, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSearcher{hits: hits}
			matches := New(emb, s, 0, nil).Retrieve(context.Background(), "q", ns, 5, tt.threshold)
			assert.InDelta(t, tt.searched, s.threshold, 1e-6)
			assert.Len(t, matches, tt.want)
		})
	}
}
