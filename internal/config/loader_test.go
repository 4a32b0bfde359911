package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, 1536, cfg.VectorStore.VectorSize)
	assert.Equal(t, "cosine", cfg.VectorStore.Distance)
	assert.Equal(t, 100, cfg.VectorStore.SearchCeiling)
	assert.False(t, cfg.VectorStore.SkipCollisionCheck)
	assert.Equal(t, 20, cfg.Chat.HistoryWindow)
	assert.Equal(t, 5, cfg.Chat.RetrievalLimit)
	require.NotNil(t, cfg.Chat.RetrievalThreshold)
	assert.InDelta(t, 0.7, *cfg.Chat.RetrievalThreshold, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.Chat.FetchTimeout.Duration())
	assert.Equal(t, "file", cfg.Tenants.Source)
}

func TestLoad_ExplicitZeroThreshold(t *testing.T) {
	path := writeConfig(t, `
chat:
  retrieval_threshold: 0
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Chat.RetrievalThreshold)
	assert.Zero(t, *cfg.Chat.RetrievalThreshold)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8088
  shutdown_timeout: 30s
vectorstore:
  provider: chromem
  vector_size: 384
qdrant:
  api_key: qdrant-secret
chat:
  history_window: 10
  retrieval_threshold: 0.5
  retrieval_timeout: 2s
generation:
  provider: anthropic
  model: claude-sonnet-4-5
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, 384, cfg.VectorStore.VectorSize)
	assert.Equal(t, "qdrant-secret", cfg.Qdrant.APIKey.Value())
	assert.Equal(t, 10, cfg.Chat.HistoryWindow)
	require.NotNil(t, cfg.Chat.RetrievalThreshold)
	assert.InDelta(t, 0.5, *cfg.Chat.RetrievalThreshold, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Chat.RetrievalTimeout.Duration())
	assert.Equal(t, "anthropic", cfg.Generation.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Generation.Model)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "qdrant:\n  host: from-file\nchat:\n  history_window: 10\n", 0600)

	t.Setenv("LOREKEEPER_QDRANT_HOST", "from-env")
	t.Setenv("LOREKEEPER_CHAT_HISTORY_WINDOW", "4")
	t.Setenv("LOREKEEPER_GENERATION_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Qdrant.Host)
	assert.Equal(t, 4, cfg.Chat.HistoryWindow)
	assert.Equal(t, "sk-test", cfg.Generation.APIKey.Value())
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("world writable", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission model differs on windows")
		}
		path := writeConfig(t, "server:\n  port: 8088\n", 0666)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("too large", func(t *testing.T) {
		path := writeConfig(t, "# "+strings.Repeat("x", maxConfigFileSize+1)+"\n", 0600)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [port\n", 0600)
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("negative duration", func(t *testing.T) {
		path := writeConfig(t, "chat:\n  fetch_timeout: -1s\n", 0600)
		_, err := Load(path)
		require.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"unknown store", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "vectorstore.provider"},
		{"unknown distance", func(c *Config) { c.VectorStore.Distance = "manhattan" }, "vectorstore.distance"},
		{"chromem dot", func(c *Config) {
			c.VectorStore.Provider = "chromem"
			c.VectorStore.Distance = "dot"
		}, "only supports cosine"},
		{"negative vector size", func(c *Config) { c.VectorStore.VectorSize = -1 }, "vector_size"},
		{"unknown moderation", func(c *Config) { c.Moderation.Provider = "perspective" }, "moderation.provider"},
		{"unknown generation", func(c *Config) { c.Generation.Provider = "cohere" }, "generation.provider"},
		{"threshold above one", func(c *Config) {
			over := 1.5
			c.Chat.RetrievalThreshold = &over
		}, "retrieval_threshold"},
		{"negative history", func(c *Config) { c.Chat.HistoryWindow = -1 }, "history_window"},
		{"postgres without dsn", func(c *Config) { c.Tenants.Source = "postgres" }, "tenants.dsn"},
		{"unknown tenant source", func(c *Config) { c.Tenants.Source = "redis" }, "tenants.source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.True(t, s.IsSet())
	assert.Equal(t, "sk-live-123", s.Value())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(b))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}
