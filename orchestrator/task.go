package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// Kind 任务类型，由请求载荷的具体类型决定
type Kind string

const (
	KindSimple     Kind = "simple"
	KindPipeline   Kind = "pipeline"
	KindMultiAgent Kind = "multi-agent"
	KindAutonomous Kind = "autonomous"
)

// Status 任务状态。failed 在重试期间会回到 pending。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	DefaultMaxRetries   = 3
	DefaultTickInterval = 100 * time.Millisecond
	DefaultPriority     = 5
	DefaultMaxSteps     = 10
)

// Payload 任务请求载荷。只有本包的四种请求类型实现它。
type Payload interface {
	Kind() Kind
	validate() error
}

// SimpleRequest 单次 provider 调用
type SimpleRequest struct {
	Capability llm.Capability  `json:"capability,omitempty"`
	Prompt     string          `json:"prompt"`
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model,omitempty"`
	Parameters llm.Parameters  `json:"parameters"`
	Context    []types.Message `json:"context,omitempty"`
}

func (SimpleRequest) Kind() Kind { return KindSimple }

func (r SimpleRequest) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return types.NewInvalidRequestError("prompt is required")
	}
	if r.Capability != "" && !r.Capability.Valid() {
		return types.NewInvalidRequestError(fmt.Sprintf("unknown capability %q", r.Capability))
	}
	return nil
}

func (r SimpleRequest) capability() llm.Capability {
	if r.Capability == "" {
		return llm.CapabilityText
	}
	return r.Capability
}

// PipelineRequest 执行已注册的流水线
type PipelineRequest struct {
	PipelineID string          `json:"pipeline_id"`
	Input      any             `json:"input"`
	Context    []types.Message `json:"context,omitempty"`
}

func (PipelineRequest) Kind() Kind { return KindPipeline }

func (r PipelineRequest) validate() error {
	if r.PipelineID == "" {
		return types.NewInvalidRequestError("pipeline_id is required")
	}
	return nil
}

// FanOutRequest 多 Agent 并发调用后合成
type FanOutRequest struct {
	Prompt   string   `json:"prompt"`
	AgentIDs []string `json:"agents,omitempty"`
}

func (FanOutRequest) Kind() Kind { return KindMultiAgent }

func (r FanOutRequest) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return types.NewInvalidRequestError("prompt is required")
	}
	return nil
}

// AutonomousRequest 规划-执行-验证循环
type AutonomousRequest struct {
	Goal        string   `json:"goal"`
	Constraints []string `json:"constraints,omitempty"`
	MaxSteps    int      `json:"max_steps,omitempty"`
}

func (AutonomousRequest) Kind() Kind { return KindAutonomous }

func (r AutonomousRequest) validate() error {
	if strings.TrimSpace(r.Goal) == "" {
		return types.NewInvalidRequestError("goal is required")
	}
	if r.MaxSteps < 0 {
		return types.NewInvalidRequestError("max_steps must not be negative")
	}
	return nil
}

// Task 一次调度单元。对外只暴露快照。
type Task struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	Priority    int             `json:"priority"`
	Request     Payload         `json:"request"`
	Response    any             `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   types.ErrorCode `json:"error_code,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	Retries     int             `json:"retries"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	seq       uint64
	index     int
	cancel    context.CancelFunc
	cancelled bool
}

// Duration returns the time between start and completion, or zero.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

func (t *Task) snapshot() Task {
	out := *t
	out.cancel = nil
	if t.StartedAt != nil {
		ts := *t.StartedAt
		out.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}

// Outcome 处理器返回值。AgentID 为执行该任务的 Agent，失败时也应填写以便记录表现。
type Outcome struct {
	Response any
	AgentID  string
}

// Handler 处理一种任务类型
type Handler func(ctx context.Context, task Task) (Outcome, error)

// Handlers 四种任务类型各自的处理器，缺一不可
type Handlers struct {
	Simple     Handler
	Pipeline   Handler
	MultiAgent Handler
	Autonomous Handler
}

func (h Handlers) validate() error {
	if h.Simple == nil || h.Pipeline == nil || h.MultiAgent == nil || h.Autonomous == nil {
		return fmt.Errorf("orchestrator: every task kind needs a handler")
	}
	return nil
}

func (h Handlers) forKind(k Kind) (Handler, error) {
	switch k {
	case KindSimple:
		return h.Simple, nil
	case KindPipeline:
		return h.Pipeline, nil
	case KindMultiAgent:
		return h.MultiAgent, nil
	case KindAutonomous:
		return h.Autonomous, nil
	}
	return nil, types.NewInvalidRequestError(fmt.Sprintf("unknown task kind %q", k))
}

// normalizePayload 把指针形式的请求解引用，任务中只保存值类型
func normalizePayload(p Payload) (Payload, error) {
	switch v := p.(type) {
	case nil:
		return nil, types.NewInvalidRequestError("request payload is required")
	case *SimpleRequest:
		if v == nil {
			return nil, types.NewInvalidRequestError("request payload is required")
		}
		return *v, nil
	case *PipelineRequest:
		if v == nil {
			return nil, types.NewInvalidRequestError("request payload is required")
		}
		return *v, nil
	case *FanOutRequest:
		if v == nil {
			return nil, types.NewInvalidRequestError("request payload is required")
		}
		return *v, nil
	case *AutonomousRequest:
		if v == nil {
			return nil, types.NewInvalidRequestError("request payload is required")
		}
		return *v, nil
	}
	return p, nil
}
