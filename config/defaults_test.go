package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, DefaultServerConfig(), cfg.Server)
	assert.Equal(t, DefaultOrchestratorConfig(), cfg.Orchestrator)
	assert.Equal(t, DefaultPipelineConfig(), cfg.Pipeline)
	assert.Equal(t, DefaultCacheConfig(), cfg.Cache)
	assert.Equal(t, DefaultRedisConfig(), cfg.Redis)
	assert.Equal(t, DefaultDatabaseConfig(), cfg.Database)
	assert.Equal(t, DefaultLogConfig(), cfg.Log)
	assert.Equal(t, DefaultTelemetryConfig(), cfg.Telemetry)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 1024, cfg.MaxConnections)
	assert.False(t, cfg.AllowQueryAPIKey)
	assert.Empty(t, cfg.APIKeys)
	assert.False(t, cfg.JWT.Enabled())
}

func TestDefaultOrchestratorConfig(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "anthropic", cfg.SynthesisProvider)
	assert.Equal(t, []string{"openai", "anthropic", "google"}, cfg.FanOutAgents)
	assert.Equal(t, "anthropic", cfg.PlannerProvider)
	assert.Equal(t, "openai", cfg.ExecutorProvider)
	assert.Equal(t, "anthropic", cfg.VerifierProvider)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "openai", cfg.DefaultProvider)
	for _, name := range []string{"openai", "anthropic", "google", "stability", "meta", "cohere"} {
		pc, ok := cfg.Providers[name]
		require.True(t, ok, name)
		assert.Empty(t, pc.APIKey, name)
	}

	// 每次返回新的 map
	cfg.Providers["extra"] = cfg.Providers["openai"]
	assert.NotContains(t, DefaultLLMConfig().Providers, "extra")
}

func TestDefaultCacheAndStorage(t *testing.T) {
	assert.True(t, DefaultCacheConfig().Enabled)
	assert.Equal(t, "taskflow:response:", DefaultCacheConfig().KeyPrefix)
	assert.False(t, DefaultRedisConfig().Enabled)
	assert.Equal(t, "localhost:6379", DefaultRedisConfig().Addr)

	db := DefaultDatabaseConfig()
	assert.False(t, db.Enabled)
	assert.Equal(t, "sqlite", db.Driver)
	assert.Equal(t, "taskflow.db", db.DSN())
}

func TestDefaultLogAndTelemetry(t *testing.T) {
	log := DefaultLogConfig()
	assert.Equal(t, "info", log.Level)
	assert.Equal(t, "json", log.Format)
	assert.Equal(t, []string{"stdout"}, log.OutputPaths)

	tel := DefaultTelemetryConfig()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "taskflow", tel.ServiceName)
	assert.InDelta(t, 0.1, tel.SampleRate, 0.001)
}
