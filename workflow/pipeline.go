package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// StageKind 阶段类型
type StageKind string

const (
	StageProcess   StageKind = "process"
	StageEnhance   StageKind = "enhance"
	StageTransform StageKind = "transform"
	StageValidate  StageKind = "validate"
	StageAggregate StageKind = "aggregate"
)

// Valid reports whether k is a known stage kind.
func (k StageKind) Valid() bool {
	switch k {
	case StageProcess, StageEnhance, StageTransform, StageValidate, StageAggregate:
		return true
	}
	return false
}

// Mode 流水线执行模式
type Mode string

const (
	// ModeSequential 顺序执行，上一阶段输出作为下一阶段输入
	ModeSequential Mode = "sequential"
	// ModeParallel 所有阶段接收同一原始输入并发执行
	ModeParallel Mode = "parallel"
)

// InputPlaceholder 提示词模板中的输入占位符，只替换第一次出现。
const InputPlaceholder = "{input}"

const (
	DefaultStageRetries   = 3
	DefaultRetryBaseDelay = time.Second
)

// RetryPolicy 阶段级重试：第 n 次重试前等待 BaseDelay×n。
// MaxRetries 是首次执行之外的重试次数，单个阶段最多执行 MaxRetries+1 次。
type RetryPolicy struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BaseDelay  time.Duration `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = DefaultStageRetries
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = DefaultRetryBaseDelay
	}
	return r
}

// TransformFunc 本地转换函数
type TransformFunc func(ctx context.Context, input any) (any, error)

// ValidateFunc 本地校验谓词
type ValidateFunc func(input any) bool

// Stage 流水线中的一个阶段。
// transform / validate 阶段未提供本地函数时，退化为使用 Prompt 的 provider 调用。
// 本地校验不通过时阶段输出 nil 并继续；Strict 为 true 时改为返回 ValidationFailed 错误。
type Stage struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Kind       StageKind      `json:"kind" yaml:"kind"`
	Provider   string         `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model      string         `json:"model,omitempty" yaml:"model,omitempty"`
	Capability llm.Capability `json:"capability,omitempty" yaml:"capability,omitempty"`
	Prompt     string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Parameters llm.Parameters `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	Transform TransformFunc `json:"-" yaml:"-"`
	Validate  ValidateFunc  `json:"-" yaml:"-"`
	Strict    bool          `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// Pipeline 可复用的多阶段工作流定义。注册后只读。
type Pipeline struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Mode        Mode        `json:"mode" yaml:"mode"`
	Retry       RetryPolicy `json:"retry" yaml:"retry"`
	Stages      []Stage     `json:"stages" yaml:"stages"`
}

// Validate checks the definition and fills in defaults.
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return types.NewInvalidRequestError("pipeline id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	switch p.Mode {
	case "":
		p.Mode = ModeSequential
	case ModeSequential, ModeParallel:
	default:
		return types.NewInvalidRequestError(fmt.Sprintf("pipeline %q: unknown mode %q", p.ID, p.Mode))
	}
	if len(p.Stages) == 0 {
		return types.NewInvalidRequestError(fmt.Sprintf("pipeline %q has no stages", p.ID))
	}

	seen := make(map[string]struct{}, len(p.Stages))
	for i := range p.Stages {
		st := &p.Stages[i]
		if st.ID == "" {
			return types.NewInvalidRequestError(fmt.Sprintf("pipeline %q: stage %d has no id", p.ID, i))
		}
		if _, dup := seen[st.ID]; dup {
			return types.NewInvalidRequestError(fmt.Sprintf("pipeline %q: duplicate stage %q", p.ID, st.ID))
		}
		seen[st.ID] = struct{}{}
		if !st.Kind.Valid() {
			return types.NewInvalidRequestError(fmt.Sprintf("pipeline %q: stage %q has unknown kind %q", p.ID, st.ID, st.Kind))
		}
		if st.Name == "" {
			st.Name = st.ID
		}
		if st.Capability == "" {
			st.Capability = llm.CapabilityText
		}
		if !st.Capability.Valid() {
			return types.NewInvalidRequestError(fmt.Sprintf("pipeline %q: stage %q has unknown capability %q", p.ID, st.ID, st.Capability))
		}
	}
	return nil
}

// clone 复制阶段切片，调用方拿到的副本修改不影响注册表
func (p *Pipeline) clone() Pipeline {
	out := *p
	out.Stages = append([]Stage(nil), p.Stages...)
	return out
}

// StageTrace 单个阶段的执行记录。失败的并行分支只有 Error。
type StageTrace struct {
	StageID   string    `json:"stage_id"`
	Stage     string    `json:"stage"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// Failed reports whether the stage ended in error.
func (t StageTrace) Failed() bool { return t.Error != "" }

// Result 一次流水线执行的结果。FinalOutput 仅在顺序模式下有值。
type Result struct {
	RunID       string        `json:"run_id"`
	PipelineID  string        `json:"pipeline_id"`
	Pipeline    string        `json:"pipeline"`
	Mode        Mode          `json:"mode"`
	Stages      []StageTrace  `json:"stages"`
	FinalOutput any           `json:"final_output,omitempty"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
}
