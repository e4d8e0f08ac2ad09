package providers

import "time"

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig OpenAI Provider 配置。
// Name 非空时以该名称注册，用于 OpenAI 兼容端点（如 meta 通过 Together AI、cohere 兼容接口）。
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Name               string `json:"name,omitempty" yaml:"name,omitempty"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
	ImageModel         string `json:"image_model,omitempty" yaml:"image_model,omitempty"`
}

// ClaudeConfig Claude Provider 配置
type ClaudeConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// GeminiConfig Gemini Provider 配置
type GeminiConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// StabilityConfig Stability AI Provider 配置
type StabilityConfig struct {
	BaseProviderConfig `yaml:",inline"`
	CfgScale           float64 `json:"cfg_scale,omitempty" yaml:"cfg_scale,omitempty"`
	Steps              int     `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// 默认模型
const (
	DefaultOpenAIModel      = "gpt-4-turbo-preview"
	DefaultOpenAIImageModel = "dall-e-3"
	DefaultClaudeModel      = "claude-3-opus-20240229"
	DefaultGeminiModel      = "gemini-pro"
	DefaultStabilityEngine  = "stable-diffusion-xl-1024-v1-0"
)
