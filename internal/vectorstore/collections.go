package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/sanitize"
)

const tracerName = "github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"

// CollectionConfig is the shape every tenant collection is created with.
type CollectionConfig struct {
	Dimension int
	Metric    Metric
}

// Validate validates the collection configuration.
func (c CollectionConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	}
	if _, err := ParseMetric(string(c.Metric)); err != nil {
		return err
	}
	return nil
}

// CollectionManager creates, verifies and drops one collection per namespace.
// A collection either exists with the expected shape or is treated as absent.
type CollectionManager struct {
	index  Index
	config CollectionConfig
	logger *logging.Logger
}

// NewCollectionManager creates a manager using cfg for PrepareCollection.
func NewCollectionManager(index Index, cfg CollectionConfig, logger *logging.Logger) (*CollectionManager, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrInvalidConfig)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CollectionManager{index: index, config: cfg, logger: logger.Named("collections")}, nil
}

// Config returns the default collection shape.
func (m *CollectionManager) Config() CollectionConfig { return m.config }

// EnsureCollection creates the collection unless one with that name exists.
// An existing collection is never altered, whatever its shape.
func (m *CollectionManager) EnsureCollection(ctx context.Context, namespace string, dimension int, metric Metric) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.EnsureCollection")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("dimension", dimension))
	defer func() { CollectionOperations.WithLabelValues("ensure", resultLabel(err)).Inc() }()

	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return err
	}

	_, err = m.index.CollectionInfo(ctx, namespace)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, ErrCollectionNotFound):
		return fmt.Errorf("ensuring collection %s: %w", namespace, err)
	}

	if err := m.index.CreateCollection(ctx, namespace, dimension, metric); err != nil {
		return fmt.Errorf("creating collection %s: %w", namespace, err)
	}
	m.logger.Info(ctx, "collection created",
		zap.String("collection", namespace),
		zap.Int("vector_size", dimension),
		zap.String("metric", string(metric)),
	)
	return nil
}

// VerifyCollection reports whether the collection exists with expectedDimension.
// false means "recreate before use"; only store failures return an error.
func (m *CollectionManager) VerifyCollection(ctx context.Context, namespace string, expectedDimension int) (bool, error) {
	err := m.CheckCollection(ctx, namespace, expectedDimension)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrCollectionNotFound), errors.Is(err, ErrDimensionMismatch):
		return false, nil
	default:
		return false, err
	}
}

// CheckCollection is VerifyCollection with the reason as an error:
// ErrCollectionNotFound or ErrDimensionMismatch.
func (m *CollectionManager) CheckCollection(ctx context.Context, namespace string, expectedDimension int) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.CheckCollection")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("namespace", namespace))

	result := "success"
	defer func() {
		if err != nil && result == "success" {
			result = "error"
		}
		CollectionOperations.WithLabelValues("verify", result).Inc()
	}()

	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return err
	}

	info, err := m.index.CollectionInfo(ctx, namespace)
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			result = "missing"
		}
		return err
	}
	if info.VectorSize != expectedDimension {
		result = "mismatch"
		return fmt.Errorf("%w: collection %s has %d dimensions, expected %d",
			ErrDimensionMismatch, namespace, info.VectorSize, expectedDimension)
	}
	return nil
}

// PrepareCollection makes the collection usable with the configured shape:
// absent collections are created and mismatched ones are dropped and recreated.
func (m *CollectionManager) PrepareCollection(ctx context.Context, namespace string) error {
	err := m.CheckCollection(ctx, namespace, m.config.Dimension)
	switch {
	case err == nil:
		CollectionOperations.WithLabelValues("prepare", "success").Inc()
		return nil
	case errors.Is(err, ErrCollectionNotFound):
		return m.EnsureCollection(ctx, namespace, m.config.Dimension, m.config.Metric)
	case errors.Is(err, ErrDimensionMismatch):
		m.logger.Warn(ctx, "recreating collection with mismatched dimension",
			zap.String("collection", namespace),
			zap.Int("expected", m.config.Dimension),
			zap.Error(err),
		)
		if err := m.DropCollection(ctx, namespace); err != nil {
			return err
		}
		CollectionOperations.WithLabelValues("prepare", "recreated").Inc()
		return m.EnsureCollection(ctx, namespace, m.config.Dimension, m.config.Metric)
	default:
		CollectionOperations.WithLabelValues("prepare", "error").Inc()
		return err
	}
}

// DropCollection deletes the collection and all its points. Idempotent.
func (m *CollectionManager) DropCollection(ctx context.Context, namespace string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.DropCollection")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("namespace", namespace))
	defer func() { CollectionOperations.WithLabelValues("drop", resultLabel(err)).Inc() }()

	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := m.index.DeleteCollection(ctx, namespace); err != nil {
		return fmt.Errorf("dropping collection %s: %w", namespace, err)
	}
	m.logger.Info(ctx, "collection dropped", zap.String("collection", namespace))
	return nil
}

// Info returns the collection description.
func (m *CollectionManager) Info(ctx context.Context, namespace string) (*CollectionInfo, error) {
	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	return m.index.CollectionInfo(ctx, namespace)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
