package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/lorekeeper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"disabled ignores everything", func(c *Config) { c.Endpoint = "" }, true},
		{"enabled local insecure", func(c *Config) { c.Enabled = true }, true},
		{"enabled remote insecure", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
		}, false},
		{"enabled remote tls", func(c *Config) {
			c.Enabled = true
			c.Insecure = false
			c.Endpoint = "collector.example.com:4317"
		}, true},
		{"loopback ipv6", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "[::1]:4317"
		}, true},
		{"bad protocol", func(c *Config) {
			c.Enabled = true
			c.Protocol = "thrift"
		}, false},
		{"bad sample rate", func(c *Config) {
			c.Enabled = true
			c.SampleRate = 2
		}, false},
		{"logs over grpc", func(c *Config) {
			c.Enabled = true
			c.LogsEnabled = true
		}, true},
		{"logs over http", func(c *Config) {
			c.Enabled = true
			c.LogsEnabled = true
			c.Protocol = "http/protobuf"
		}, false},
		{"metrics without interval", func(c *Config) {
			c.Enabled = true
			c.MetricsEnabled = true
			c.ExportInterval = 0
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "http://localhost:4318",
		Protocol:    "http/protobuf",
		ServiceName: "lorekeeper-test",
		Insecure:    true,
		SampleRate:  0.25,
		Metrics:     true,
		Logs:        true,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.True(t, cfg.LogsEnabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "lorekeeper-test", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.InDelta(t, 0.25, cfg.SampleRate, 1e-9)
	assert.Error(t, cfg.Validate(), "log export is grpc only")

	cfg.LogsEnabled = false
	assert.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	h := tel.Health()
	assert.False(t, h.Enabled)
	assert.False(t, h.Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledShutsDownCleanly(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ShutdownTimeout = 100 * time.Millisecond

	// Exporters connect lazily, so construction succeeds without a collector.
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, tel.Health().Enabled)

	_ = tel.Shutdown(context.Background())
	assert.False(t, tel.Health().Enabled)
	assert.NoError(t, tel.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestNew_LoggerProvider(t *testing.T) {
	off, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, off.LoggerProvider())

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.LogsEnabled = true
	cfg.ShutdownTimeout = 100 * time.Millisecond
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, tel.LoggerProvider())
	assert.False(t, tel.Health().Degraded)
	_ = tel.Shutdown(context.Background())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry(t)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.RecordError(errors.New("boom"))
	span.SetStatus(codes.Error, "boom")
	span.End()

	tt.AssertSpanExists(t, "op")
	tt.AssertSpanError(t, "op")
	assert.Nil(t, tt.SpanByName("missing"))
}
