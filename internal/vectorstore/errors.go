package vectorstore

import "errors"

// Sentinel errors for vector store operations.
var (
	// ErrStoreUnavailable means the index could not be reached or kept failing
	// after retries. Retryable.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch means the collection exists with a different vector size.
	// The collection must be recreated before writing.
	ErrDimensionMismatch = errors.New("collection dimension mismatch")

	// ErrIdentityCollision means the numeric identity already belongs to a
	// different stable identifier.
	ErrIdentityCollision = errors.New("vector identity collision")

	// ErrUnsupportedMetric is returned by backends that cannot honour a metric.
	ErrUnsupportedMetric = errors.New("unsupported distance metric")

	// ErrInvalidPayload means a stored payload lacks the stable identifier.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)
