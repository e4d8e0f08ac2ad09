// =============================================================================
// 📦 TaskFlow 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/taskflow/llm/factory"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Pipeline:     DefaultPipelineConfig(),
		LLM:          DefaultLLMConfig(),
		Cache:        DefaultCacheConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  1024,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultOrchestratorConfig 返回默认调度配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TickInterval:      100 * time.Millisecond,
		MaxRetries:        3,
		TaskRetention:     time.Hour,
		SynthesisProvider: "anthropic",
		FanOutAgents:      []string{"openai", "anthropic", "google"},
		PlannerProvider:   "anthropic",
		ExecutorProvider:  "openai",
		VerifierProvider:  "anthropic",
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{RegisterDefaults: true}
}

// DefaultLLMConfig 返回默认 LLM 配置，内置六个 provider 条目，密钥留空待补齐
func DefaultLLMConfig() LLMConfig {
	providers := make(map[string]factory.ProviderConfig)
	for _, name := range []string{"openai", "anthropic", "google", "stability", "meta", "cohere"} {
		providers[name] = factory.ProviderConfig{}
	}
	return LLMConfig{
		DefaultProvider: "openai",
		Timeout:         2 * time.Minute,
		Providers:       providers,
	}
}

// DefaultCacheConfig 返回默认响应缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		LocalMaxSize: 1000,
		LocalTTL:     30 * time.Minute,
		RedisTTL:     24 * time.Hour,
		KeyPrefix:    "taskflow:response:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "taskflow",
		Name:            "taskflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "taskflow",
		SampleRate:   0.1,
	}
}
