package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/chat"
	"github.com/fyrsmithlabs/lorekeeper/internal/config"
	"github.com/fyrsmithlabs/lorekeeper/internal/embeddings"
	"github.com/fyrsmithlabs/lorekeeper/internal/generation"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/moderation"
	"github.com/fyrsmithlabs/lorekeeper/internal/qdrant"
	"github.com/fyrsmithlabs/lorekeeper/internal/records"
	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
	"github.com/fyrsmithlabs/lorekeeper/internal/secrets"
	"github.com/fyrsmithlabs/lorekeeper/internal/telemetry"
	"github.com/fyrsmithlabs/lorekeeper/internal/tenant"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

// core holds what every command needs: config, logging and the knowledge
// layer.
type core struct {
	cfg         *config.Config
	logger      *logging.Logger
	telemetry   *telemetry.Telemetry
	qdrant      *qdrant.GRPCClient
	index       vectorstore.Index
	embedder    *embeddings.Service
	collections *vectorstore.CollectionManager
	store       *vectorstore.Adapter
	retriever   *retrieval.Retriever
	records     *records.Service

	closers []func() error
}

func loadCore(ctx context.Context) (*core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// Telemetry comes first so the logger can bridge into its log provider.
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logCfg.Output.OTEL = cfg.Telemetry.Logs
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	c := &core{cfg: cfg, logger: logger, telemetry: tel}
	c.closers = append(c.closers, func() error {
		_ = logger.Sync() // Best-effort sync on shutdown
		return nil
	})
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	if err := c.init(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *core) init(ctx context.Context) error {
	cfg := c.cfg

	var err error
	c.index, err = c.buildIndex()
	if err != nil {
		return err
	}
	c.closers = append(c.closers, c.index.Close)

	c.embedder, err = embeddings.NewService(embeddings.Config{
		BaseURL:       cfg.Embeddings.BaseURL,
		Model:         cfg.Embeddings.Model,
		APIKey:        cfg.Embeddings.APIKey.Value(),
		Dimension:     cfg.VectorStore.VectorSize,
		Timeout:       cfg.Embeddings.Timeout.Duration(),
		MaxInputChars: cfg.Embeddings.MaxInputChars,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding service: %w", err)
	}

	metric, err := vectorstore.ParseMetric(cfg.VectorStore.Distance)
	if err != nil {
		return err
	}
	c.collections, err = vectorstore.NewCollectionManager(c.index, vectorstore.CollectionConfig{
		Dimension: cfg.VectorStore.VectorSize,
		Metric:    metric,
	}, c.logger)
	if err != nil {
		return err
	}

	c.store, err = vectorstore.NewAdapter(c.index, c.embedder, vectorstore.AdapterConfig{
		SearchCeiling:      cfg.VectorStore.SearchCeiling,
		SkipCollisionCheck: cfg.VectorStore.SkipCollisionCheck,
	}, c.logger)
	if err != nil {
		return err
	}

	c.retriever = retrieval.New(c.embedder, c.store, cfg.Chat.RetrievalTimeout.Duration(), c.logger)

	recordsCfg := records.Config{MaxChars: cfg.Embeddings.MaxInputChars}
	if !cfg.Records.SkipSecretScrub {
		recordsCfg.Scrubber, err = secrets.New(secrets.Config{Replacement: cfg.Records.Redaction})
		if err != nil {
			return err
		}
	}
	c.records, err = records.NewService(c.store, c.collections, recordsCfg, c.logger)
	return err
}

func (c *core) buildIndex() (vectorstore.Index, error) {
	switch c.cfg.VectorStore.Provider {
	case "chromem":
		c.logger.Warn(context.Background(), "using in-memory chromem index, knowledge is lost on restart")
		return vectorstore.NewChromemIndex(c.logger), nil
	case "qdrant":
		q := c.cfg.Qdrant
		client, err := qdrant.NewGRPCClient(&qdrant.ClientConfig{
			Host:           q.Host,
			Port:           q.Port,
			UseTLS:         q.UseTLS,
			APIKey:         q.APIKey.Value(),
			MaxMessageSize: q.MaxMessageSize,
			DialTimeout:    q.DialTimeout.Duration(),
			RequestTimeout: q.RequestTimeout.Duration(),
			RetryAttempts:  q.RetryAttempts,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		c.qdrant = client
		return qdrant.NewIndexAdapter(client), nil
	default:
		return nil, fmt.Errorf("unknown vectorstore provider %q", c.cfg.VectorStore.Provider)
	}
}

// Close releases resources in reverse order of acquisition.
func (c *core) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	// Last, so log records written while closing still reach the exporter.
	if c.telemetry != nil {
		errs = append(errs, c.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// chatStack adds what serving chat needs on top of core.
type chatStack struct {
	tenants      tenant.Store
	pinger       func(context.Context) error
	orchestrator *chat.Orchestrator
}

func (c *core) buildChat(ctx context.Context) (*chatStack, error) {
	cfg := c.cfg
	stack := &chatStack{}

	switch cfg.Tenants.Source {
	case "postgres":
		pg, err := tenant.OpenPostgresStore(ctx, cfg.Tenants.DSN.Value(), c.logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pg.Close)
		stack.tenants, stack.pinger = pg, pg.Ping
	default:
		fs, err := tenant.NewFileStore(cfg.Tenants.Path, c.logger)
		if err != nil {
			return nil, err
		}
		if err := fs.Watch(ctx); err != nil {
			c.logger.Warn(ctx, "tenant file will not be reloaded on change", zap.Error(err))
		} else {
			c.closers = append(c.closers, fs.Close)
		}
		stack.tenants = fs
	}

	classifier, err := moderation.NewClassifier(moderation.ClassifierConfig{
		Provider:  cfg.Moderation.Provider,
		Model:     cfg.Moderation.Model,
		BaseURL:   cfg.Moderation.BaseURL,
		APIKey:    cfg.Moderation.APIKey.Value(),
		RateLimit: cfg.Moderation.RateLimit,
		Burst:     cfg.Moderation.Burst,
	})
	if err != nil {
		return nil, err
	}
	gate := moderation.NewGate(classifier, cfg.Moderation.Timeout.Duration(), c.logger)

	gen, err := generation.New(ctx, generation.Config{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey.Value(),
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		RateLimit:   cfg.Generation.RateLimit,
		Burst:       cfg.Generation.Burst,
	}, c.logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, gen.Close)

	stack.orchestrator, err = chat.NewOrchestrator(stack.tenants, gate, c.retriever, gen, chat.Config{
		HistoryWindow:      cfg.Chat.HistoryWindow,
		RetrievalLimit:     cfg.Chat.RetrievalLimit,
		RetrievalThreshold: cfg.Chat.RetrievalThreshold,
		FetchTimeout:       cfg.Chat.FetchTimeout.Duration(),
		GenerationTimeout:  cfg.Generation.Timeout.Duration(),
	}, c.logger)
	if err != nil {
		return nil, err
	}
	return stack, nil
}
