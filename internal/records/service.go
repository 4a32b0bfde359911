package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/embeddings"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/secrets"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

// ErrInvalidRecord is returned for records missing an ID or namespace.
var ErrInvalidRecord = errors.New("invalid record")

// DefaultMaxChars caps embedded text.
const DefaultMaxChars = 8000

// Config configures the Service.
type Config struct {
	// MaxChars caps the embedded text in runes.
	MaxChars int

	// Scrubber redacts credentials before a record is embedded. Nil disables
	// redaction.
	Scrubber *secrets.Scrubber
}

// Service embeds records on create/update and removes their vectors on delete.
type Service struct {
	store       *vectorstore.Adapter
	collections *vectorstore.CollectionManager
	config      Config
	logger      *logging.Logger
	now         func() time.Time
}

// NewService creates a Service.
func NewService(store *vectorstore.Adapter, collections *vectorstore.CollectionManager, cfg Config, logger *logging.Logger) (*Service, error) {
	if store == nil || collections == nil {
		return nil, fmt.Errorf("records: store and collections are required")
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:       store,
		collections: collections,
		config:      cfg,
		logger:      logger.Named("records"),
		now:         time.Now,
	}, nil
}

// OnRecordCreated embeds a newly persisted record. The returned identity is
// always usable; check Degraded to observe fallback writes.
func (s *Service) OnRecordCreated(ctx context.Context, r Record) vectorstore.WriteResult {
	return s.write(ctx, "created", r)
}

// OnRecordUpdated re-embeds a record, overwriting its previous vector.
// A record holding a fallback identity returns to Embedded on success.
func (s *Service) OnRecordUpdated(ctx context.Context, r Record) vectorstore.WriteResult {
	return s.write(ctx, "updated", r)
}

// OnRecordDeleted removes the record's vector. Records that were never
// embedded are a no-op.
func (s *Service) OnRecordDeleted(ctx context.Context, r Record) error {
	if err := validate(r); err != nil {
		return err
	}
	ctx = logging.WithNamespace(ctx, r.Namespace)
	if err := s.store.Delete(ctx, r.Namespace, r.ID, r.VectorIdentity); err != nil {
		s.logger.Warn(ctx, "record vector delete failed", zap.String("record_id", r.ID), zap.Error(err))
		return err
	}
	s.logger.Debug(ctx, "record vector deleted", zap.String("record_id", r.ID))
	return nil
}

func (s *Service) write(ctx context.Context, event string, r Record) vectorstore.WriteResult {
	ctx = logging.WithNamespace(ctx, r.Namespace)
	if err := validate(r); err != nil {
		return s.store.Fallback(ctx, r.Namespace, r.ID, err)
	}

	r = s.scrub(ctx, r)

	// Absent collections are created; one left at another dimension by an
	// embedding model change is dropped and recreated.
	if err := s.collections.PrepareCollection(ctx, r.Namespace); err != nil {
		return s.store.Fallback(ctx, r.Namespace, r.ID, err)
	}

	text := EmbeddingText(r, s.config.MaxChars)
	payload := vectorstore.Payload{
		Kind:      kindOf(r),
		Name:      r.Name,
		Content:   text,
		UpdatedAt: r.UpdatedAt,
	}
	if payload.Kind == vectorstore.KindKnowledge {
		payload.Content = embeddings.PrepareText(r.Content, s.config.MaxChars)
	}
	if payload.UpdatedAt.IsZero() {
		payload.UpdatedAt = s.now()
	}

	res := s.store.UpsertRecord(ctx, r.Namespace, r.ID, text, payload)
	if !res.Degraded {
		s.logger.Debug(ctx, "record embedded",
			zap.String("event", event),
			zap.String("record_id", r.ID),
			zap.String("vector_identity", res.Identity),
		)
	}
	return res
}

// scrub redacts credentials from every embedded text field of r.
func (s *Service) scrub(ctx context.Context, r Record) Record {
	if s.config.Scrubber == nil {
		return r
	}
	rules := make(map[string]struct{})
	field := func(text string) string {
		res := s.config.Scrubber.Scrub(text)
		for _, id := range res.RuleIDs() {
			rules[id] = struct{}{}
		}
		return res.Text
	}

	r.Name = field(r.Name)
	r.Description = field(r.Description)
	r.Content = field(r.Content)
	if len(r.Attributes) > 0 {
		attrs := make([]Attribute, len(r.Attributes))
		for i, a := range r.Attributes {
			attrs[i] = Attribute{Key: a.Key, Value: field(a.Value)}
		}
		r.Attributes = attrs
	}

	if len(rules) > 0 {
		ids := make([]string, 0, len(rules))
		for id := range rules {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		s.logger.Warn(ctx, "credentials redacted from record",
			zap.String("record_id", r.ID),
			zap.Strings("rules", ids),
		)
	}
	return r
}

func validate(r Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if r.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidRecord)
	}
	return nil
}

func kindOf(r Record) vectorstore.Kind {
	if r.Kind == "" {
		return vectorstore.KindEntity
	}
	return r.Kind
}
