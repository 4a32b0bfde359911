// Package embeddings turns record and query text into vectors through an
// OpenAI-compatible embedding endpoint (langchaingo client).
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/lorekeeper/internal/embeddings"

var (
	// ErrEmptyInput indicates empty text after trimming.
	ErrEmptyInput = errors.New("empty embedding input")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed wraps every failure of the embedding API, including
	// vectors of the wrong dimension.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder produces vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds configuration for the embedding service.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string

	// Dimension is the expected vector length; responses of any other length
	// are rejected. Zero disables the check.
	Dimension int

	// Timeout bounds each API call.
	Timeout time.Duration

	// MaxInputChars caps each input after trimming.
	MaxInputChars int

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Service embeds text with dimension checking, timeouts and metrics.
type Service struct {
	config   Config
	embedder Embedder
	metrics  *Metrics
	logger   *logging.Logger
}

// NewService builds the langchaingo OpenAI embedder from config.
func NewService(cfg Config, logger *logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	token := cfg.APIKey
	if token == "" {
		// Self-hosted OpenAI-compatible servers ignore the key but the client requires one.
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return NewServiceWithEmbedder(cfg, embedder, logger), nil
}

// NewServiceWithEmbedder wraps an existing embedder, e.g. a test fake.
func NewServiceWithEmbedder(cfg Config, embedder Embedder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		config:   cfg,
		embedder: embedder,
		metrics:  NewMetrics(logger.Underlying()),
		logger:   logger.Named("embeddings"),
	}
}

// Dimension returns the configured vector length.
func (s *Service) Dimension() int {
	return s.config.Dimension
}

// EmbedQuery embeds a single text.
func (s *Service) EmbedQuery(ctx context.Context, text string) (vec []float32, err error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "embeddings.EmbedQuery")
	defer func() {
		s.finish(ctx, span, "embed_query", start, 1, err)
	}()

	text = PrepareText(text, s.config.MaxInputChars)
	if text == "" {
		return nil, ErrEmptyInput
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vec, err = s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedDocuments embeds texts in order. Any empty input fails the whole batch.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "embeddings.EmbedDocuments")
	defer func() {
		s.finish(ctx, span, "embed_documents", start, len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = PrepareText(t, s.config.MaxInputChars)
		if prepared[i] == "" {
			return nil, fmt.Errorf("%w: document %d", ErrEmptyInput, i)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vecs, err = s.embedder.EmbedDocuments(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(prepared) {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vecs), len(prepared))
	}
	for _, v := range vecs {
		if err := s.checkDimension(v); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.Timeout)
}

func (s *Service) checkDimension(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	if s.config.Dimension > 0 && len(vec) != s.config.Dimension {
		return fmt.Errorf("%w: vector has %d dimensions, want %d", ErrEmbeddingFailed, len(vec), s.config.Dimension)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, start time.Time, n int, err error) {
	elapsed := time.Since(start)
	s.metrics.RecordGeneration(ctx, s.config.Model, op, elapsed, n, err)
	span.SetAttributes(
		attribute.String("embedding.model", s.config.Model),
		attribute.Int("embedding.batch_size", n),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, "embedding failed",
			zap.String("operation", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// PrepareText trims text and caps it at maxChars runes. maxChars <= 0 means no cap.
func PrepareText(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxChars]))
}
