package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/identity"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/sanitize"
)

// DefaultSearchCeiling caps how many neighbours a threshold search requests.
const DefaultSearchCeiling = 100

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// IdentityState is where a record's vector identity sits in its lifecycle.
//
//	Unembedded -> (UpsertRecord in flight) -> Embedded
//	                                       -> FallbackAssigned
//
// Embedded and FallbackAssigned both return to Embedded on the next
// successful write. A pending write is never persisted, and a deleted record
// carries no identity, so it reads as Unembedded again.
type IdentityState int

const (
	StateUnembedded IdentityState = iota
	StateEmbedded
	StateFallbackAssigned
)

func (s IdentityState) String() string {
	switch s {
	case StateUnembedded:
		return "unembedded"
	case StateEmbedded:
		return "embedded"
	case StateFallbackAssigned:
		return "fallback_assigned"
	default:
		return "unknown"
	}
}

// StateOf classifies a persisted vector identity.
func StateOf(vectorIdentity string) IdentityState {
	switch kind, _ := identity.Parse(vectorIdentity); kind {
	case identity.KindEmpty:
		return StateUnembedded
	case identity.KindFallback:
		return StateFallbackAssigned
	default:
		return StateEmbedded
	}
}

// WriteResult is the outcome of a record write. Identity is always usable:
// on failure it holds a fallback identity, Degraded is set and Err carries
// the cause.
type WriteResult struct {
	Identity string
	State    IdentityState
	Degraded bool
	Err      error
}

// Match is a search hit with a validated payload.
type Match struct {
	Identity string
	Score    float32
	Payload  Payload
}

// AdapterConfig configures the Adapter.
type AdapterConfig struct {
	// SearchCeiling caps the over-fetch of threshold search.
	SearchCeiling int

	// SkipCollisionCheck disables the read-before-write check that refuses
	// to overwrite a point owned by a different stable identifier.
	SkipCollisionCheck bool
}

// ApplyDefaults sets default values for unset fields.
func (c *AdapterConfig) ApplyDefaults() {
	if c.SearchCeiling <= 0 {
		c.SearchCeiling = DefaultSearchCeiling
	}
}

// Adapter maps stable record identifiers onto index points.
type Adapter struct {
	index    Index
	embedder Embedder
	config   AdapterConfig
	logger   *logging.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(index Index, embedder Embedder, cfg AdapterConfig, logger *logging.Logger) (*Adapter, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.ApplyDefaults()
	return &Adapter{index: index, embedder: embedder, config: cfg, logger: logger.Named("vectorstore")}, nil
}

// Upsert writes vector at the numeric identity of stableID and returns that
// identity in its persisted string form. Re-upserting overwrites.
func (a *Adapter) Upsert(ctx context.Context, namespace, stableID string, vector []float32, payload Payload) (_ string, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.Upsert")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := validateTarget(namespace, stableID); err != nil {
		return "", err
	}
	if len(vector) == 0 {
		return "", fmt.Errorf("%w: empty vector for %s", ErrInvalidConfig, stableID)
	}

	id := identity.NumericID(stableID)
	payload.StableID = stableID
	if payload.Namespace == "" {
		payload.Namespace = namespace
	}

	if !a.config.SkipCollisionCheck {
		if err := a.checkCollision(ctx, namespace, stableID, id); err != nil {
			return "", err
		}
	}

	if err := a.index.Upsert(ctx, namespace, []Point{{ID: id, Vector: vector, Payload: payload.Map()}}); err != nil {
		return "", fmt.Errorf("upserting %s into %s: %w", stableID, namespace, err)
	}
	return identity.Format(id), nil
}

func (a *Adapter) checkCollision(ctx context.Context, namespace, stableID string, id uint64) error {
	existing, err := a.index.Get(ctx, namespace, []uint64{id})
	if err != nil {
		return fmt.Errorf("reading point %d in %s: %w", id, namespace, err)
	}
	if len(existing) == 0 {
		return nil
	}
	owner, err := ParsePayload(existing[0].Payload)
	if err != nil || owner.StableID != stableID {
		a.logger.Error(ctx, "vector identity collision",
			zap.String("namespace", namespace),
			zap.String("stable_id", stableID),
			zap.String("owner", owner.StableID),
			zap.Uint64("point_id", id),
		)
		return fmt.Errorf("%w: point %d in %s belongs to %q", ErrIdentityCollision, id, namespace, owner.StableID)
	}
	return nil
}

// UpsertRecord embeds text and writes it. It never fails outright: on
// embedding or store failure the result carries a fallback identity so the
// caller's record never points at nothing.
func (a *Adapter) UpsertRecord(ctx context.Context, namespace, stableID, text string, payload Payload) WriteResult {
	if err := validateTarget(namespace, stableID); err != nil {
		return a.fallback(ctx, namespace, stableID, err)
	}

	vectors, err := a.embedder.EmbedDocuments(ctx, []string{text})
	if err == nil && (len(vectors) != 1 || len(vectors[0]) == 0) {
		err = fmt.Errorf("embedder returned %d vectors for one document", len(vectors))
	}
	if err != nil {
		return a.fallback(ctx, namespace, stableID, fmt.Errorf("embedding %s: %w", stableID, err))
	}

	vectorIdentity, err := a.Upsert(ctx, namespace, stableID, vectors[0], payload)
	if err != nil {
		return a.fallback(ctx, namespace, stableID, err)
	}

	WritesTotal.WithLabelValues("embedded").Inc()
	return WriteResult{Identity: vectorIdentity, State: StateEmbedded}
}

// Fallback returns the degraded result for a write that could not be attempted.
func (a *Adapter) Fallback(ctx context.Context, namespace, stableID string, cause error) WriteResult {
	return a.fallback(ctx, namespace, stableID, cause)
}

func (a *Adapter) fallback(ctx context.Context, namespace, stableID string, cause error) WriteResult {
	outcome := "fallback"
	if errors.Is(cause, ErrIdentityCollision) {
		outcome = "collision"
	}
	WritesTotal.WithLabelValues(outcome).Inc()

	a.logger.Warn(ctx, "vector write degraded to fallback identity",
		zap.String("namespace", namespace),
		zap.String("stable_id", stableID),
		zap.String("outcome", outcome),
		zap.Error(cause),
	)
	return WriteResult{
		Identity: identity.FallbackIdentity(stableID),
		State:    StateFallbackAssigned,
		Degraded: true,
		Err:      cause,
	}
}

// Delete removes the point for stableID. A record that was never embedded
// (empty storedIdentity) is a no-op, as is an absent point or collection.
// A fallback identity still deletes the numeric point, which may hold the
// vector from an earlier successful write.
func (a *Adapter) Delete(ctx context.Context, namespace, stableID, storedIdentity string) (err error) {
	kind, id := identity.Parse(storedIdentity)
	if kind == identity.KindEmpty {
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.Delete")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.String("identity.kind", kind.String()))

	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return err
	}

	ids := []uint64{}
	if kind == identity.KindNumeric {
		ids = append(ids, id)
	}
	if stableID != "" {
		if derived := identity.NumericID(stableID); kind != identity.KindNumeric || derived != id {
			ids = append(ids, derived)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := a.index.Delete(ctx, namespace, ids); err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return nil
		}
		return fmt.Errorf("deleting %s from %s: %w", stableID, namespace, err)
	}
	return nil
}

// Search returns at most limit matches scoring at least threshold, best first.
//
// It over-fetches min(2*limit, ceiling) neighbours so near-threshold hits do
// not under-fill the result, then drops payload-less points and scores
// strictly below threshold.
func (a *Adapter) Search(ctx context.Context, namespace string, vector []float32, limit int, threshold float32) (_ []Match, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vectorstore.Search")
	defer func() { endSpan(span, err) }()

	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	fetch := min(2*limit, a.config.SearchCeiling)
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("limit", limit),
		attribute.Int("fetch", fetch),
		attribute.Float64("threshold", float64(threshold)),
	)

	start := time.Now()
	hits, err := a.index.Search(ctx, namespace, vector, fetch)
	SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		SearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("searching %s: %w", namespace, err)
	}

	matches := make([]Match, 0, min(len(hits), limit))
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		payload, err := ParsePayload(hit.Payload)
		if err != nil {
			a.logger.Debug(ctx, "skipping point without usable payload",
				zap.String("namespace", namespace),
				zap.Uint64("point_id", hit.ID),
				zap.Error(err),
			)
			continue
		}
		matches = append(matches, Match{Identity: identity.Format(hit.ID), Score: hit.Score, Payload: payload})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(matches)))
	if len(matches) == 0 {
		SearchesTotal.WithLabelValues("empty").Inc()
	} else {
		SearchesTotal.WithLabelValues("hit").Inc()
	}
	return matches, nil
}

func validateTarget(namespace, stableID string) error {
	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return err
	}
	if stableID == "" {
		return fmt.Errorf("%w: stable identifier is required", ErrInvalidConfig)
	}
	return nil
}
