package agent

import (
	"slices"
	"time"

	"github.com/BaSui01/taskflow/llm"
)

// Type Agent 类型
type Type string

const (
	TypeProvider     Type = "ai-provider"
	TypeOrchestrator Type = "orchestrator"
)

// Status Agent 可用状态
type Status string

const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

// 协调者角色的能力标签
const (
	CapabilityTaskRouting   llm.Capability = "task-routing"
	CapabilityLoadBalancing llm.Capability = "load-balancing"
	CapabilityOptimization  llm.Capability = "optimization"
)

// DefaultAgentID 没有匹配 Agent 时的兜底
const DefaultAgentID = "openai"

// Performance 滚动性能统计
type Performance struct {
	TasksCompleted int     `json:"tasks_completed"`
	AvgResponseMs  float64 `json:"avg_response_ms"`
	SuccessRate    float64 `json:"success_rate"`
}

// Agent 目录中一条记录的快照
type Agent struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         Type             `json:"type"`
	Capabilities []llm.Capability `json:"capabilities"`
	Status       Status           `json:"status"`
	CurrentTask  string           `json:"current_task,omitempty"`
	Performance  Performance      `json:"performance"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// HasCapability reports whether the agent holds c.
func (a *Agent) HasCapability(c llm.Capability) bool {
	return slices.Contains(a.Capabilities, c)
}

func (a *Agent) clone() Agent {
	out := *a
	out.Capabilities = slices.Clone(a.Capabilities)
	return out
}

// Spec 构造目录时的 Agent 定义
type Spec struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Type         Type             `json:"type" yaml:"type"`
	Capabilities []llm.Capability `json:"capabilities" yaml:"capabilities"`
}

// DefaultSpecs 内置 Agent：六个 Provider 加一个协调者。
func DefaultSpecs() []Spec {
	return []Spec{
		{ID: "openai", Name: "OpenAI GPT-4", Type: TypeProvider,
			Capabilities: []llm.Capability{llm.CapabilityText, llm.CapabilityCode, llm.CapabilityVision, llm.CapabilityImage}},
		{ID: "anthropic", Name: "Anthropic Claude", Type: TypeProvider,
			Capabilities: []llm.Capability{llm.CapabilityText, llm.CapabilityCode, llm.CapabilityAnalysis}},
		{ID: "google", Name: "Google Gemini", Type: TypeProvider,
			Capabilities: []llm.Capability{llm.CapabilityText, llm.CapabilityVision, llm.CapabilityAnalysis}},
		{ID: "stability", Name: "Stability AI", Type: TypeProvider,
			Capabilities: []llm.Capability{llm.CapabilityImage}},
		{ID: "meta", Name: "Meta Llama", Type: TypeProvider,
			Capabilities: []llm.Capability{llm.CapabilityText, llm.CapabilityCode}},
		{ID: "cohere", Name: "Cohere", Type: TypeProvider,
			Capabilities: []llm.Capability{llm.CapabilityText, llm.CapabilityEmbeddings}},
		{ID: "coordinator", Name: "Task Coordinator", Type: TypeOrchestrator,
			Capabilities: []llm.Capability{CapabilityTaskRouting, CapabilityLoadBalancing, CapabilityOptimization}},
	}
}
