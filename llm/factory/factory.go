package factory

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/circuitbreaker"
	"github.com/BaSui01/taskflow/llm/providers"
	"github.com/BaSui01/taskflow/llm/providers/anthropic"
	"github.com/BaSui01/taskflow/llm/providers/gemini"
	"github.com/BaSui01/taskflow/llm/providers/openai"
	"github.com/BaSui01/taskflow/llm/providers/stability"
)

// OpenAI 兼容端点的默认值
const (
	MetaBaseURL        = "https://api.together.xyz/v1/"
	MetaDefaultModel   = "meta-llama/Llama-3-70b-chat-hf"
	CohereBaseURL      = "https://api.cohere.ai/compatibility/v1/"
	CohereDefaultModel = "command-r-plus"
)

// ProviderConfig is the generic configuration accepted by the factory function.
type ProviderConfig struct {
	APIKey  string         `json:"api_key" yaml:"api_key"`
	BaseURL string         `json:"base_url" yaml:"base_url"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Extra   map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`

	// 每秒请求上限，<= 0 表示不限流
	RateLimitRPS   float64 `json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps,omitempty"`
	RateLimitBurst int     `json:"rate_limit_burst,omitempty" yaml:"rate_limit_burst,omitempty"`

	// 非空时启用熔断
	CircuitBreaker *circuitbreaker.Config `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// NewProviderFromConfig creates a Provider based on the provider name.
//
// Supported names: openai, anthropic (claude), google (gemini), stability, meta, cohere.
// 其他名称视为 OpenAI 兼容端点，必须提供 base_url。
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := providers.BaseProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}

	var p llm.Provider
	switch name {
	case "openai":
		oc := providers.OpenAIConfig{BaseProviderConfig: base}
		if v, ok := cfg.Extra["organization"].(string); ok {
			oc.Organization = v
		}
		if v, ok := cfg.Extra["image_model"].(string); ok {
			oc.ImageModel = v
		}
		p = openai.New(oc, logger)

	case "anthropic", "claude":
		p = anthropic.New(providers.ClaudeConfig{BaseProviderConfig: base}, logger)

	case "google", "gemini":
		p = gemini.New(providers.GeminiConfig{BaseProviderConfig: base}, logger)

	case "stability":
		sc := providers.StabilityConfig{BaseProviderConfig: base}
		if v, ok := cfg.Extra["cfg_scale"].(float64); ok {
			sc.CfgScale = v
		}
		if v, ok := cfg.Extra["steps"].(int); ok {
			sc.Steps = v
		}
		p = stability.New(sc, logger)

	case "meta":
		p = openai.New(compatConfig(name, base, MetaBaseURL, MetaDefaultModel), logger)

	case "cohere":
		p = openai.New(compatConfig(name, base, CohereBaseURL, CohereDefaultModel), logger)

	default:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider %q: base_url is required for generic OpenAI-compatible provider", name)
		}
		logger.Info("creating generic OpenAI-compatible provider",
			zap.String("provider", name),
			zap.String("base_url", cfg.BaseURL))
		p = openai.New(compatConfig(name, base, "", ""), logger)
	}

	p = llm.NewRateLimitedProvider(p, cfg.RateLimitRPS, cfg.RateLimitBurst)
	if cfg.CircuitBreaker != nil {
		p = circuitbreaker.Wrap(p, *cfg.CircuitBreaker, logger)
	}
	return p, nil
}

func compatConfig(name string, base providers.BaseProviderConfig, baseURL, model string) providers.OpenAIConfig {
	if base.BaseURL == "" {
		base.BaseURL = baseURL
	}
	if base.Model == "" {
		base.Model = model
	}
	return providers.OpenAIConfig{BaseProviderConfig: base, Name: name}
}

// SupportedProviders returns the list of built-in provider names.
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "claude", "google", "gemini", "stability", "meta", "cohere"}
}

// RegistryConfig describes multiple providers and which one is the default.
type RegistryConfig struct {
	Default   string                    `json:"default" yaml:"default"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

// NewRegistryFromConfig creates a ProviderRegistry populated with all providers
// defined in cfg. Providers without an API key are skipped with a warning.
func NewRegistryFromConfig(cfg RegistryConfig, logger *zap.Logger) (*llm.ProviderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := llm.NewProviderRegistry()

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pcfg := cfg.Providers[name]
		if pcfg.APIKey == "" {
			logger.Warn("skipping provider: no api key configured", zap.String("provider", name))
			continue
		}
		p, err := NewProviderFromConfig(name, pcfg, logger)
		if err != nil {
			logger.Warn("skipping provider: initialization failed",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}
		reg.Register(p)
		logger.Info("provider registered", zap.String("provider", p.Name()))
	}

	if cfg.Default != "" {
		if err := reg.SetDefault(cfg.Default); err != nil {
			return reg, fmt.Errorf("failed to set default provider %q: %w", cfg.Default, err)
		}
	}

	return reg, nil
}
