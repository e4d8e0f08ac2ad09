package dsl

// File 流水线定义文件的顶层结构
type File struct {
	// Version 定义格式版本，目前只支持 "1"
	Version string `yaml:"version" json:"version"`
	// Variables 提示词中 ${name} 的替换值
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	// Pipelines 流水线列表
	Pipelines []PipelineDef `yaml:"pipelines" json:"pipelines"`
}

// PipelineDef 流水线定义
type PipelineDef struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name,omitempty" json:"name,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        string     `yaml:"mode,omitempty" json:"mode,omitempty"` // sequential, parallel
	Retry       *RetryDef  `yaml:"retry,omitempty" json:"retry,omitempty"`
	Stages      []StageDef `yaml:"stages" json:"stages"`
}

// RetryDef 重试定义。BaseDelay 使用 Go duration 语法，例如 "500ms"。
type RetryDef struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	MaxRetries int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	BaseDelay  string `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
}

// StageDef 阶段定义。
// Transformer / Validator 引用已注册的本地函数，Args 传给其工厂。
type StageDef struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name,omitempty" json:"name,omitempty"`
	Kind         string         `yaml:"kind" json:"kind"` // process, enhance, transform, validate, aggregate
	Provider     string         `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model        string         `yaml:"model,omitempty" json:"model,omitempty"`
	Capability   string         `yaml:"capability,omitempty" json:"capability,omitempty"`
	Prompt       string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	SystemPrompt string         `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Temperature  *float64       `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens    int            `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Transformer  string         `yaml:"transformer,omitempty" json:"transformer,omitempty"`
	Validator    string         `yaml:"validator,omitempty" json:"validator,omitempty"`
	Strict       bool           `yaml:"strict,omitempty" json:"strict,omitempty"`
	Args         map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}
