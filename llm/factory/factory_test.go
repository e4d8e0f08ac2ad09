package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/circuitbreaker"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewProviderFromConfig_AllProviders(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		providerName string
		wantName     string
	}{
		{"openai", "openai"},
		{"anthropic", "anthropic"},
		{"claude", "anthropic"},
		{"google", "google"},
		{"gemini", "google"},
		{"stability", "stability"},
		{"meta", "meta"},
		{"cohere", "cohere"},
	}

	for _, tt := range tests {
		t.Run(tt.providerName, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.providerName, ProviderConfig{APIKey: "sk-test"}, logger)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestNewProviderFromConfig_GenericCompat(t *testing.T) {
	_, err := NewProviderFromConfig("groq", ProviderConfig{APIKey: "k"}, nil)
	assert.Error(t, err)

	p, err := NewProviderFromConfig("groq", ProviderConfig{APIKey: "k", BaseURL: "https://api.groq.com/openai/v1/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
}

func TestNewProviderFromConfig_RateLimitWrapping(t *testing.T) {
	p, err := NewProviderFromConfig("openai", ProviderConfig{APIKey: "k", RateLimitRPS: 5, RateLimitBurst: 2}, nil)
	require.NoError(t, err)
	rl, ok := p.(*llm.RateLimitedProvider)
	require.True(t, ok)
	assert.Equal(t, "openai", rl.Unwrap().Name())

	p, err = NewProviderFromConfig("openai", ProviderConfig{APIKey: "k"}, nil)
	require.NoError(t, err)
	_, ok = p.(*llm.RateLimitedProvider)
	assert.False(t, ok)
}

func TestNewProviderFromConfig_CircuitBreaker(t *testing.T) {
	p, err := NewProviderFromConfig("anthropic", ProviderConfig{
		APIKey:         "k",
		RateLimitRPS:   1,
		CircuitBreaker: &circuitbreaker.Config{Threshold: 3},
	}, nil)
	require.NoError(t, err)
	cb, ok := p.(*circuitbreaker.Provider)
	require.True(t, ok)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
	_, ok = cb.Unwrap().(*llm.RateLimitedProvider)
	assert.True(t, ok)
}

func TestSupportedProviders(t *testing.T) {
	for _, name := range SupportedProviders() {
		_, err := NewProviderFromConfig(name, ProviderConfig{APIKey: "k"}, nil)
		assert.NoError(t, err, name)
	}
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestNewRegistryFromConfig(t *testing.T) {
	reg, err := NewRegistryFromConfig(RegistryConfig{
		Default: "openai",
		Providers: map[string]ProviderConfig{
			"openai":    {APIKey: "a"},
			"claude":    {APIKey: "b"},
			"gemini":    {APIKey: "c"},
			"stability": {},
			"bogus":     {APIKey: "d"},
		},
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"anthropic", "google", "openai"}, reg.List())
	def, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, "openai", def.Name())
}

func TestNewRegistryFromConfig_MissingDefault(t *testing.T) {
	reg, err := NewRegistryFromConfig(RegistryConfig{
		Default:   "anthropic",
		Providers: map[string]ProviderConfig{"openai": {APIKey: "a"}},
	}, nil)
	require.Error(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, 1, reg.Len())
}
