package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	delay time.Duration
	calls atomic.Int32
	got   []string
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.got = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.got = []string{text}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small", Dimension: 1536}, ""},
		{"no base url", Config{Model: "m"}, "base URL required"},
		{"no model", Config{BaseURL: "http://x"}, "model required"},
		{"negative dimension", Config{BaseURL: "http://x", Model: "m", Dimension: -1}, "dimension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestService_EmbedQuery(t *testing.T) {
	fake := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	svc := NewServiceWithEmbedder(Config{Model: "m", Dimension: 3, MaxInputChars: 5}, fake, nil)

	vec, err := svc.EmbedQuery(context.Background(), "  hello world  ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, []string{"hello"}, fake.got, "input is trimmed and capped")
	assert.Equal(t, 3, svc.Dimension())
}

func TestService_EmbedQuery_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fake    *fakeEmbedder
		text    string
		timeout time.Duration
		wantErr error
		calls   int32
	}{
		{"empty input never calls api", &fakeEmbedder{vec: []float32{1, 2, 3}}, "   ", 0, ErrEmptyInput, 0},
		{"api error", &fakeEmbedder{err: errors.New("503")}, "q", 0, ErrEmbeddingFailed, 1},
		{"wrong dimension", &fakeEmbedder{vec: []float32{1, 2}}, "q", 0, ErrEmbeddingFailed, 1},
		{"empty vector", &fakeEmbedder{vec: []float32{}}, "q", 0, ErrEmbeddingFailed, 1},
		{"timeout", &fakeEmbedder{vec: []float32{1, 2, 3}, delay: time.Second}, "q", 20 * time.Millisecond, ErrEmbeddingFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := logging.NewTestLogger()
			svc := NewServiceWithEmbedder(Config{Model: "m", Dimension: 3, Timeout: tt.timeout}, tt.fake, tl.Logger)

			_, err := svc.EmbedQuery(context.Background(), tt.text)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.calls, tt.fake.calls.Load())
			tl.AssertLogged(t, zapcore.WarnLevel, "embedding failed")
		})
	}
}

func TestService_EmbedDocuments(t *testing.T) {
	fake := &fakeEmbedder{vec: []float32{1, 0}}
	svc := NewServiceWithEmbedder(Config{Model: "m", Dimension: 2}, fake, nil)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", " b "})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, []string{"a", "b"}, fake.got)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

// openAIEmbeddingServer answers /embeddings with one vector per input whose
// first component encodes the input index.
func openAIEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "text-embedding-3-small", req.Model)

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			data[i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestNewService_OpenAICompatibleEndpoint(t *testing.T) {
	srv := openAIEmbeddingServer(t, 4)
	defer srv.Close()

	svc, err := NewService(Config{
		BaseURL:   srv.URL + "/v1",
		Model:     "text-embedding-3-small",
		APIKey:    "sk-test",
		Dimension: 4,
		Timeout:   5 * time.Second,
	}, nil)
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "what is the capital?")
	require.NoError(t, err)
	assert.Len(t, vec, 4)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0], "order preserved")
	}
}

func TestNewService_DimensionMismatchFromEndpoint(t *testing.T) {
	srv := openAIEmbeddingServer(t, 8)
	defer srv.Close()

	svc, err := NewService(Config{
		BaseURL:   srv.URL + "/v1",
		Model:     "text-embedding-3-small",
		APIKey:    "sk-test",
		Dimension: 4,
	}, nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestPrepareText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"trim", "  a b  ", 0, "a b"},
		{"cap", "abcdef", 3, "abc"},
		{"multibyte cap", "héllo", 2, "hé"},
		{"cap then trim", "ab   cd", 4, "ab"},
		{"under cap", "abc", 10, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrepareText(tt.in, tt.max))
		})
	}
}
