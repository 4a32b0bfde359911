// Package generation produces assistant replies from an assembled prompt.
//
// Three backends are supported: any OpenAI-compatible endpoint through
// langchaingo, Anthropic Messages and Google Gemini. Every backend is wrapped
// with the same rate limiter, tracing span and empty-reply check, so callers
// only ever see ErrEmptyResponse or a wrapped provider error.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/prompt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/fyrsmithlabs/lorekeeper/internal/generation"

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

var (
	// ErrEmptyResponse indicates the model answered with no text.
	ErrEmptyResponse = errors.New("empty generation response")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid generation configuration")
)

// Generator turns a prompt into reply text.
type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt) (string, error)
}

// Config configures a generation backend.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens must be >= 0", ErrInvalidConfig)
	}
	if (c.Provider == ProviderAnthropic || c.Provider == ProviderGoogle) && c.APIKey == "" {
		return fmt.Errorf("%w: %s requires an api key", ErrInvalidConfig, c.Provider)
	}
	return nil
}

// New builds the backend named by cfg.Provider behind the shared limiter.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend Generator
		err     error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		backend, err = NewOpenAIGenerator(cfg)
	case ProviderAnthropic:
		backend = NewAnthropicGenerator(cfg)
	case ProviderGoogle:
		backend, err = NewGoogleGenerator(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s generator: %w", cfg.Provider, err)
	}
	return NewService(cfg, backend, logger), nil
}

// Service decorates a backend with rate limiting, tracing and reply checks.
type Service struct {
	backend  Generator
	provider string
	model    string
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewService wraps backend, e.g. a test fake.
func NewService(cfg Config, backend Generator, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		backend:  backend,
		provider: cfg.Provider,
		model:    cfg.Model,
		limiter:  newLimiter(cfg.RateLimit, cfg.Burst),
		logger:   logger.Named("generation"),
	}
}

// Close releases the backend when it holds a connection.
func (s *Service) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Generate implements Generator. Replies are trimmed; whitespace-only replies
// are ErrEmptyResponse.
func (s *Service) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "generation.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("generation.provider", s.provider),
		attribute.String("generation.model", s.model),
		attribute.Int("generation.messages", len(p.Messages)),
	)

	if err := s.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter")
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	text, err := s.backend.Generate(ctx, p)
	elapsed := time.Since(start)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = ErrEmptyResponse
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, "generation failed",
			zap.String("provider", s.provider),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", err
	}

	span.SetAttributes(attribute.Int("generation.reply_chars", len(text)))
	s.logger.Debug(ctx, "generation completed",
		zap.String("provider", s.provider),
		zap.Duration("elapsed", elapsed))
	return text, nil
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
