// Package chat turns a user message into a grounded, moderated reply.
//
// A turn runs moderation, knowledge retrieval, prompt assembly and generation
// in that order. Moderation and retrieval are best effort and never fail the
// turn; a violation, an unknown tenant or a failed generation does.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/lorekeeper/internal/generation"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/moderation"
	"github.com/fyrsmithlabs/lorekeeper/internal/prompt"
	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
	"github.com/fyrsmithlabs/lorekeeper/internal/tenant"
)

const tracerName = "github.com/fyrsmithlabs/lorekeeper/internal/chat"

// Stage keys used in Result.Timings.
const (
	StageFetch      = "fetch"
	StageModeration = "moderation"
	StageRetrieval  = "retrieval"
	StageAssembly   = "assembly"
	StageGeneration = "generation"
	StageTotal      = "total"
)

var (
	// ErrNotFound indicates the tenant does not exist.
	ErrNotFound = errors.New("tenant not found")

	// ErrGenerationFailure indicates the model produced no usable reply. The
	// underlying model error is logged, never returned.
	ErrGenerationFailure = errors.New("generation failed, please try again")

	// ErrFetch wraps tenant store failures other than not-found.
	ErrFetch = errors.New("tenant fetch failed")

	// ErrInvalidInput indicates an empty message or malformed history.
	ErrInvalidInput = errors.New("invalid chat input")
)

// ViolationError blocks a turn whose message failed moderation.
type ViolationError struct {
	Message string
	Verdict moderation.Verdict
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("message flagged for %s", e.Verdict.Category)
}

// Moderator is implemented by *moderation.Gate.
type Moderator interface {
	Moderate(ctx context.Context, text string, settings *moderation.Settings) moderation.Verdict
}

// KnowledgeSource is implemented by *retrieval.Retriever.
type KnowledgeSource interface {
	Retrieve(ctx context.Context, query, namespace string, limit int, threshold float64) []retrieval.KnowledgeMatch
}

// NoKnowledge is the KnowledgeSource used when no knowledge store is configured.
type NoKnowledge struct{}

// Retrieve returns no matches.
func (NoKnowledge) Retrieve(context.Context, string, string, int, float64) []retrieval.KnowledgeMatch {
	return []retrieval.KnowledgeMatch{}
}

// Config holds per-turn settings.
type Config struct {
	HistoryWindow  int
	RetrievalLimit int
	// RetrievalThreshold is nil for the default; 0 keeps every hit.
	RetrievalThreshold *float64

	// FetchTimeout bounds the tenant lookups.
	FetchTimeout time.Duration

	// GenerationTimeout bounds the model call. Expiry fails the turn.
	GenerationTimeout time.Duration
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	threshold := retrieval.DefaultThreshold
	return Config{
		HistoryWindow:      20,
		RetrievalLimit:     retrieval.DefaultLimit,
		RetrievalThreshold: &threshold,
		FetchTimeout:       3 * time.Second,
		GenerationTimeout:  60 * time.Second,
	}
}

// ApplyDefaults fills zero fields and a nil RetrievalThreshold.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = d.RetrievalLimit
	}
	if c.RetrievalThreshold == nil {
		c.RetrievalThreshold = d.RetrievalThreshold
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
}

// Result is a completed turn.
type Result struct {
	TurnID    string                     `json:"turn_id"`
	Reply     string                     `json:"reply"`
	Knowledge []retrieval.KnowledgeMatch `json:"knowledge"`
	Timings   map[string]time.Duration   `json:"timings"`
	Prompt    prompt.Prompt              `json:"prompt"`
	Verdict   moderation.Verdict         `json:"verdict"`
}

// Orchestrator runs chat turns. It holds no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	tenants   tenant.Store
	moderator Moderator
	knowledge KnowledgeSource
	generator generation.Generator
	config    Config
	logger    *logging.Logger
}

// NewOrchestrator wires the stages. A nil knowledge source disables retrieval.
func NewOrchestrator(
	tenants tenant.Store,
	moderator Moderator,
	knowledge KnowledgeSource,
	generator generation.Generator,
	cfg Config,
	logger *logging.Logger,
) (*Orchestrator, error) {
	if tenants == nil {
		return nil, errors.New("tenant store is required")
	}
	if moderator == nil {
		return nil, errors.New("moderator is required")
	}
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if knowledge == nil {
		knowledge = NoKnowledge{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.ApplyDefaults()
	return &Orchestrator{
		tenants:   tenants,
		moderator: moderator,
		knowledge: knowledge,
		generator: generator,
		config:    cfg,
		logger:    logger.Named("chat"),
	}, nil
}

type timings map[string]time.Duration

func (t timings) record(stage string, start time.Time) {
	d := time.Since(start)
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	t[stage] = d
}

// HandleTurn answers message for tenantID given prior history, oldest first.
//
// Errors: ErrInvalidInput, ErrNotFound, ErrFetch, *ViolationError,
// ErrGenerationFailure, or the caller's context error.
func (o *Orchestrator) HandleTurn(ctx context.Context, tenantID, message string, history []prompt.Turn) (res *Result, err error) {
	turnID := uuid.NewString()
	ctx = logging.WithTurnID(logging.WithTenantID(ctx, tenantID), turnID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "chat.HandleTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("chat.turn_id", turnID),
		attribute.Int("chat.history_len", len(history)),
	)

	t := make(timings, 6)
	turnStart := time.Now()
	defer func() {
		t.record(StageTotal, turnStart)
		if res != nil {
			res.Timings = t
		}
		outcome := outcomeOf(err)
		Turns.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("chat.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}()

	if err := validateInput(message, history); err != nil {
		return nil, err
	}

	// 1-2. Tenant config and moderation settings, concurrently.
	start := time.Now()
	cfg, settings, err := o.fetch(ctx, tenantID)
	t.record(StageFetch, start)
	if err != nil {
		return nil, err
	}

	// 3. Moderation.
	start = time.Now()
	verdict := o.moderator.Moderate(ctx, message, settings)
	t.record(StageModeration, start)
	if verdict.Violation {
		o.logger.Info(ctx, "turn blocked by moderation", zap.String("category", string(verdict.Category)))
		return nil, &ViolationError{Message: verdict.Message, Verdict: verdict}
	}

	// 4. Knowledge, best effort.
	start = time.Now()
	knowledge := o.retrieve(ctx, cfg, message)
	t.record(StageRetrieval, start)

	// 5. Prompt.
	start = time.Now()
	p := prompt.Assemble(cfg.Persona, knowledge, prompt.Window(history, o.config.HistoryWindow), message)
	t.record(StageAssembly, start)

	// 6. Generation.
	start = time.Now()
	reply, err := o.generate(ctx, p)
	t.record(StageGeneration, start)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("chat.knowledge_matches", len(knowledge)))
	return &Result{
		TurnID:    turnID,
		Reply:     reply,
		Knowledge: knowledge,
		Prompt:    p,
		Verdict:   verdict,
	}, nil
}

func (o *Orchestrator) fetch(ctx context.Context, tenantID string) (*tenant.Config, *moderation.Settings, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.config.FetchTimeout)
	defer cancel()

	var (
		cfg      *tenant.Config
		settings *moderation.Settings
	)
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		var err error
		cfg, err = o.tenants.GetConfig(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		settings, err = o.tenants.GetModerationSettings(gctx, tenantID)
		return err
	})

	if err := g.Wait(); err != nil {
		switch {
		case errors.Is(err, tenant.ErrNotFound):
			return nil, nil, ErrNotFound
		case errors.Is(err, tenant.ErrInvalidTenantID):
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		case ctx.Err() != nil:
			return nil, nil, ctx.Err()
		}
		o.logger.Error(ctx, "tenant fetch failed", zap.Error(err))
		return nil, nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if cfg == nil {
		return nil, nil, ErrNotFound
	}
	return cfg, settings, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, cfg *tenant.Config, message string) []retrieval.KnowledgeMatch {
	namespace, err := tenant.ResolveNamespace(cfg)
	if err != nil {
		o.logger.Warn(ctx, "knowledge retrieval skipped", zap.Error(err))
		return []retrieval.KnowledgeMatch{}
	}
	ctx = logging.WithNamespace(ctx, namespace)
	matches := o.knowledge.Retrieve(ctx, message, namespace, o.config.RetrievalLimit, *o.config.RetrievalThreshold)
	if matches == nil {
		matches = []retrieval.KnowledgeMatch{}
	}
	return matches
}

func (o *Orchestrator) generate(ctx context.Context, p prompt.Prompt) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.config.GenerationTimeout)
	defer cancel()

	reply, err := o.generator.Generate(genCtx, p)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = generation.ErrEmptyResponse
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		o.logger.Error(ctx, "generation failed", zap.Error(err))
		return "", ErrGenerationFailure
	}
	return reply, nil
}

func validateInput(message string, history []prompt.Turn) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	for i, turn := range history {
		if !turn.Role.Valid() {
			return fmt.Errorf("%w: history[%d] has role %q", ErrInvalidInput, i, turn.Role)
		}
	}
	return nil
}

func outcomeOf(err error) string {
	var violation *ViolationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &violation):
		return "violation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrGenerationFailure):
		return "generation_failure"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrFetch):
		return "fetch_error"
	default:
		return "canceled"
	}
}
