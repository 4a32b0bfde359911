// Package config provides configuration loading for lorekeeper.
//
// Configuration is read from an optional YAML file and then overridden by
// LOREKEEPER_* environment variables. Zero values are filled with defaults
// before validation, so an empty file (or no file) yields a working local setup
// against Qdrant on localhost.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete lorekeeper configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Records     RecordsConfig     `koanf:"records"`
	Moderation  ModerationConfig  `koanf:"moderation"`
	Generation  GenerationConfig  `koanf:"generation"`
	Chat        ChatConfig        `koanf:"chat"`
	Tenants     TenantsConfig     `koanf:"tenants"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects level and encoding for the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry trace export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http/protobuf
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	Metrics     bool    `koanf:"metrics"`
	// Logs exports log records over OTLP gRPC through the otelzap bridge.
	Logs bool `koanf:"logs"`
}

// VectorStoreConfig selects the index backend and fixes the collection shape.
type VectorStoreConfig struct {
	// Provider is "qdrant" (default) or "chromem" (embedded, in-memory).
	Provider string `koanf:"provider"`

	// VectorSize is the dimension every tenant collection is created with.
	// MUST match the embedding model output.
	VectorSize int `koanf:"vector_size"`

	// Distance is "cosine" (default), "dot" or "euclid".
	Distance string `koanf:"distance"`

	// SearchCeiling caps the over-fetch used by threshold search.
	SearchCeiling int `koanf:"search_ceiling"`

	// SkipCollisionCheck disables the read-before-write identity check.
	SkipCollisionCheck bool `koanf:"skip_collision_check"`
}

// QdrantConfig holds the Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	MaxMessageSize int      `koanf:"max_message_size"`
	DialTimeout    Duration `koanf:"dial_timeout"`
	RequestTimeout Duration `koanf:"request_timeout"`
	RetryAttempts  int      `koanf:"retry_attempts"`
}

// EmbeddingsConfig holds the OpenAI-compatible embedding endpoint settings.
type EmbeddingsConfig struct {
	BaseURL       string   `koanf:"base_url"`
	Model         string   `koanf:"model"`
	APIKey        Secret   `koanf:"api_key"`
	Timeout       Duration `koanf:"timeout"`
	MaxInputChars int      `koanf:"max_input_chars"`
}

// RecordsConfig controls how record text is prepared for embedding.
type RecordsConfig struct {
	// SkipSecretScrub embeds record text without redacting credentials.
	SkipSecretScrub bool `koanf:"skip_secret_scrub"`

	// Redaction replaces each credential span. Empty means "[REDACTED]".
	Redaction string `koanf:"redaction"`
}

// ModerationConfig holds the classifier settings.
type ModerationConfig struct {
	// Provider is "llm" (default) or "openai-moderation".
	Provider  string   `koanf:"provider"`
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
}

// GenerationConfig holds the text generation model settings.
type GenerationConfig struct {
	// Provider is "openai" (default), "anthropic" or "google".
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"`
	Burst       int      `koanf:"burst"`
}

// ChatConfig holds per-turn orchestration settings.
type ChatConfig struct {
	HistoryWindow  int `koanf:"history_window"`
	RetrievalLimit int `koanf:"retrieval_limit"`
	// RetrievalThreshold is nil when unset; an explicit 0 keeps every hit.
	RetrievalThreshold *float64 `koanf:"retrieval_threshold"`
	FetchTimeout       Duration `koanf:"fetch_timeout"`
	RetrievalTimeout   Duration `koanf:"retrieval_timeout"`
}

// TenantsConfig selects where tenant persona and moderation settings are read.
type TenantsConfig struct {
	// Source is "file" (default) or "postgres".
	Source string `koanf:"source"`
	Path   string `koanf:"path"`
	DSN    Secret `koanf:"dsn"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "lorekeeper"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "qdrant"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 1536 // text-embedding-3-small
	}
	if cfg.VectorStore.Distance == "" {
		cfg.VectorStore.Distance = "cosine"
	}
	if cfg.VectorStore.SearchCeiling == 0 {
		cfg.VectorStore.SearchCeiling = 100
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.MaxMessageSize == 0 {
		cfg.Qdrant.MaxMessageSize = 50 * 1024 * 1024
	}
	if cfg.Qdrant.DialTimeout == 0 {
		cfg.Qdrant.DialTimeout = Duration(5 * time.Second)
	}
	if cfg.Qdrant.RequestTimeout == 0 {
		cfg.Qdrant.RequestTimeout = Duration(10 * time.Second)
	}
	if cfg.Qdrant.RetryAttempts == 0 {
		cfg.Qdrant.RetryAttempts = 3
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(10 * time.Second)
	}
	if cfg.Embeddings.MaxInputChars == 0 {
		cfg.Embeddings.MaxInputChars = 8000
	}

	if cfg.Moderation.Provider == "" {
		cfg.Moderation.Provider = "llm"
	}
	if cfg.Moderation.Model == "" {
		cfg.Moderation.Model = "gpt-4o-mini"
	}
	if cfg.Moderation.Timeout == 0 {
		cfg.Moderation.Timeout = Duration(5 * time.Second)
	}
	if cfg.Moderation.RateLimit == 0 {
		cfg.Moderation.RateLimit = 10
	}
	if cfg.Moderation.Burst == 0 {
		cfg.Moderation.Burst = 5
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(60 * time.Second)
	}
	if cfg.Generation.RateLimit == 0 {
		cfg.Generation.RateLimit = 5
	}
	if cfg.Generation.Burst == 0 {
		cfg.Generation.Burst = 5
	}

	if cfg.Chat.HistoryWindow == 0 {
		cfg.Chat.HistoryWindow = 20
	}
	if cfg.Chat.RetrievalLimit == 0 {
		cfg.Chat.RetrievalLimit = 5
	}
	if cfg.Chat.RetrievalThreshold == nil {
		threshold := 0.7
		cfg.Chat.RetrievalThreshold = &threshold
	}
	if cfg.Chat.FetchTimeout == 0 {
		cfg.Chat.FetchTimeout = Duration(3 * time.Second)
	}
	if cfg.Chat.RetrievalTimeout == 0 {
		cfg.Chat.RetrievalTimeout = Duration(5 * time.Second)
	}

	if cfg.Tenants.Source == "" {
		cfg.Tenants.Source = "file"
	}
	if cfg.Tenants.Source == "file" && cfg.Tenants.Path == "" {
		cfg.Tenants.Path = "tenants.yaml"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	switch c.VectorStore.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unknown vectorstore.provider %q", c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize <= 0 {
		return fmt.Errorf("vectorstore.vector_size must be positive, got %d", c.VectorStore.VectorSize)
	}
	switch c.VectorStore.Distance {
	case "cosine", "dot", "euclid":
	default:
		return fmt.Errorf("unknown vectorstore.distance %q", c.VectorStore.Distance)
	}
	if c.VectorStore.Provider == "chromem" && c.VectorStore.Distance != "cosine" {
		return errors.New("chromem provider only supports cosine distance")
	}
	if c.VectorStore.SearchCeiling <= 0 {
		return fmt.Errorf("vectorstore.search_ceiling must be positive, got %d", c.VectorStore.SearchCeiling)
	}

	if c.VectorStore.Provider == "qdrant" && (c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535) {
		return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
	}

	if c.Embeddings.BaseURL == "" {
		return errors.New("embeddings.base_url is required")
	}

	switch c.Moderation.Provider {
	case "llm", "openai-moderation":
	default:
		return fmt.Errorf("unknown moderation.provider %q", c.Moderation.Provider)
	}

	switch c.Generation.Provider {
	case "openai", "anthropic", "google":
	default:
		return fmt.Errorf("unknown generation.provider %q", c.Generation.Provider)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2, got %f", c.Generation.Temperature)
	}

	if c.Chat.HistoryWindow < 0 {
		return fmt.Errorf("chat.history_window must be >= 0, got %d", c.Chat.HistoryWindow)
	}
	if c.Chat.RetrievalLimit <= 0 {
		return fmt.Errorf("chat.retrieval_limit must be positive, got %d", c.Chat.RetrievalLimit)
	}
	if t := c.Chat.RetrievalThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("chat.retrieval_threshold must be between 0 and 1, got %f", *t)
	}

	switch c.Tenants.Source {
	case "file":
		if c.Tenants.Path == "" {
			return errors.New("tenants.path is required for file source")
		}
	case "postgres":
		if !c.Tenants.DSN.IsSet() {
			return errors.New("tenants.dsn is required for postgres source")
		}
	default:
		return fmt.Errorf("unknown tenants.source %q", c.Tenants.Source)
	}

	return nil
}
