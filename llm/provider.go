package llm

import (
	"context"
	"time"

	"github.com/BaSui01/taskflow/types"
)

// Capability 请求所需的能力标签，同时用于匹配 Agent。
type Capability string

const (
	CapabilityText       Capability = "text"
	CapabilityCode       Capability = "code"
	CapabilityVision     Capability = "vision"
	CapabilityImage      Capability = "image"
	CapabilityAnalysis   Capability = "analysis"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilityAudio      Capability = "audio"
)

// Valid reports whether c is one of the known capabilities.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityText, CapabilityCode, CapabilityVision, CapabilityImage,
		CapabilityAnalysis, CapabilityEmbeddings, CapabilityAudio:
		return true
	}
	return false
}

const (
	DefaultSystemPrompt = "You are a sophisticated AI assistant."
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 2000
)

// Parameters 调用参数。零值字段由 Router 填充默认值。
type Parameters struct {
	SystemPrompt string         `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	ImageSize    string         `json:"image_size,omitempty" yaml:"image_size,omitempty"`
	ImageQuality string         `json:"image_quality,omitempty" yaml:"image_quality,omitempty"`
	Extra        map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// TemperatureOr returns the configured temperature or def.
func (p Parameters) TemperatureOr(def float64) float64 {
	if p.Temperature == nil {
		return def
	}
	return *p.Temperature
}

func (p Parameters) withDefaults() Parameters {
	if p.SystemPrompt == "" {
		p.SystemPrompt = DefaultSystemPrompt
	}
	if p.Temperature == nil {
		p.Temperature = Float(DefaultTemperature)
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	return p
}

// Request 抽象的 provider 调用请求。
type Request struct {
	ID         string          `json:"id"`
	Capability Capability      `json:"capability"`
	Prompt     string          `json:"prompt"`
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model,omitempty"`
	Parameters Parameters      `json:"parameters"`
	Context    []types.Message `json:"context,omitempty"`
}

// Response 归一化后的响应信封。
type Response struct {
	ID         string            `json:"id"`
	Provider   string            `json:"provider"`
	Model      string            `json:"model"`
	Capability Capability        `json:"capability"`
	Content    string            `json:"content"`
	Usage      *types.TokenUsage `json:"usage,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Provider 单个智能后端的调用边界。
// 实现只需填充 Content、Model 与可选的 Usage，其余字段由 Router 归一化。
// 实现必须在 ctx 取消时尽快返回并释放底层连接。
type Provider interface {
	Name() string
	Call(ctx context.Context, req *Request) (*Response, error)
}

// Executor 执行一次路由后的 provider 调用。Router 是其标准实现。
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, req *Request) (*Response, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) Call(ctx context.Context, req *Request) (*Response, error) {
	return p.Fn(ctx, req)
}
