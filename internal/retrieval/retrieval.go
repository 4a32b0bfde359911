// Package retrieval fetches the knowledge chunks most relevant to a query.
package retrieval

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

const tracerName = "github.com/fyrsmithlabs/lorekeeper/internal/retrieval"

const (
	// DefaultLimit replaces a non-positive limit.
	DefaultLimit = 5

	// DefaultThreshold is what callers use when no threshold was supplied.
	// Retrieve itself never substitutes it: a threshold of 0 keeps every hit.
	DefaultThreshold = 0.7
)

// KnowledgeMatch is one retrieved chunk, ordered by descending RelevanceScore.
type KnowledgeMatch struct {
	SourceName     string           `json:"source_name"`
	Content        string           `json:"content"`
	RelevanceScore float64          `json:"relevance_score"`
	StableID       string           `json:"stable_id"`
	Kind           vectorstore.Kind `json:"kind,omitempty"`
}

// QueryEmbedder embeds a query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a threshold search. Implemented by *vectorstore.Adapter.
type Searcher interface {
	Search(ctx context.Context, namespace string, vector []float32, limit int, threshold float32) ([]vectorstore.Match, error)
}

// Retriever embeds queries and searches a namespace. Best effort: failures
// yield no knowledge rather than an error.
type Retriever struct {
	embedder QueryEmbedder
	searcher Searcher
	timeout  time.Duration
	logger   *logging.Logger
}

// New creates a Retriever. A non-positive timeout leaves only the caller's deadline.
func New(embedder QueryEmbedder, searcher Searcher, timeout time.Duration, logger *logging.Logger) *Retriever {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Retriever{embedder: embedder, searcher: searcher, timeout: timeout, logger: logger.Named("retrieval")}
}

// Retrieve returns at most limit matches scoring at least threshold. The
// threshold is clamped to [0,1]. Any embedding or search failure is logged
// and returns an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query, namespace string, limit int, threshold float64) []KnowledgeMatch {
	if limit <= 0 {
		limit = DefaultLimit
	}
	threshold = clamp(threshold)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieval.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("limit", limit),
		attribute.Float64("threshold", threshold),
	)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	fail := func(stage string, err error) []KnowledgeMatch {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		r.logger.Warn(ctx, "knowledge retrieval degraded",
			zap.String("namespace", namespace),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return []KnowledgeMatch{}
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return fail("embed", err)
	}

	hits, err := r.searcher.Search(ctx, namespace, vector, limit, float32(threshold))
	if err != nil {
		return fail("search", err)
	}

	matches := make([]KnowledgeMatch, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, KnowledgeMatch{
			SourceName:     h.Payload.Name,
			Content:        h.Payload.Content,
			RelevanceScore: clamp(float64(h.Score)),
			StableID:       h.Payload.StableID,
			Kind:           h.Payload.Kind,
		})
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
