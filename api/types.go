package api

import (
	"fmt"

	"github.com/BaSui01/taskflow/internal/history"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/orchestrator"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// =============================================================================
// 任务提交
// =============================================================================

// SubmitTaskRequest 任务提交请求。Kind 决定使用哪些字段，缺省为 simple。
// @Description 任务提交请求结构
type SubmitTaskRequest struct {
	// 任务类型：simple、pipeline、multi-agent、autonomous
	Kind string `json:"kind,omitempty" example:"simple"`
	// 优先级，数值越大越先调度，缺省为 5
	Priority *int `json:"priority,omitempty" example:"5"`

	// simple / multi-agent
	Prompt     string          `json:"prompt,omitempty" example:"Summarize the release notes"`
	Capability llm.Capability  `json:"capability,omitempty" example:"text"`
	Provider   string          `json:"provider,omitempty" example:"openai"`
	Model      string          `json:"model,omitempty" example:"gpt-4o"`
	Parameters llm.Parameters  `json:"parameters,omitempty"`
	Context    []types.Message `json:"context,omitempty"`

	// pipeline
	PipelineID string `json:"pipeline_id,omitempty" example:"content-creation"`
	Input      any    `json:"input,omitempty"`

	// multi-agent
	Agents []string `json:"agents,omitempty"`

	// autonomous
	Goal        string   `json:"goal,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	MaxSteps    int      `json:"max_steps,omitempty" example:"10"`
}

// Payload 按 Kind 组装调度器载荷，字段校验由调度器负责
func (r SubmitTaskRequest) Payload() (orchestrator.Payload, error) {
	switch orchestrator.Kind(r.Kind) {
	case "", orchestrator.KindSimple:
		return orchestrator.SimpleRequest{
			Capability: r.Capability,
			Prompt:     r.Prompt,
			Provider:   r.Provider,
			Model:      r.Model,
			Parameters: r.Parameters,
			Context:    r.Context,
		}, nil
	case orchestrator.KindPipeline:
		return orchestrator.PipelineRequest{PipelineID: r.PipelineID, Input: r.Input, Context: r.Context}, nil
	case orchestrator.KindMultiAgent:
		return orchestrator.FanOutRequest{Prompt: r.Prompt, AgentIDs: r.Agents}, nil
	case orchestrator.KindAutonomous:
		return orchestrator.AutonomousRequest{Goal: r.Goal, Constraints: r.Constraints, MaxSteps: r.MaxSteps}, nil
	default:
		return nil, types.NewInvalidRequestError(fmt.Sprintf("unknown task kind %q", r.Kind))
	}
}

// PriorityOr 返回请求优先级，未设置时使用 def
func (r SubmitTaskRequest) PriorityOr(def int) int {
	if r.Priority == nil {
		return def
	}
	return *r.Priority
}

// SubmitTaskResponse 提交成功后返回的任务 ID
type SubmitTaskResponse struct {
	TaskID string            `json:"task_id" example:"0b8f5c1e-4d7a-4a51-9f3e-2c8f1f0e6a11"`
	Kind   orchestrator.Kind `json:"kind" example:"simple"`
	Status string            `json:"status" example:"pending"`
}

// TaskList 任务列表
type TaskList struct {
	Tasks []orchestrator.Task `json:"tasks"`
	Total int                 `json:"total"`
}

// =============================================================================
// 同步执行
// =============================================================================

// ExecutePipelineRequest 同步执行流水线
type ExecutePipelineRequest struct {
	Input   any             `json:"input"`
	Context []types.Message `json:"context,omitempty"`
}

// FanOutRequest 同步多 Agent 调用
type FanOutRequest struct {
	Prompt string   `json:"prompt" example:"Compare Go and Rust for CLI tools"`
	Agents []string `json:"agents,omitempty"`
}

// AutonomousRequest 同步执行规划-执行-验证循环
type AutonomousRequest struct {
	Goal        string   `json:"goal" example:"Draft a launch checklist"`
	Constraints []string `json:"constraints,omitempty"`
	MaxSteps    int      `json:"max_steps,omitempty" example:"5"`
}

// CancelPipelineResponse 被取消的执行数
type CancelPipelineResponse struct {
	PipelineID string `json:"pipeline_id"`
	Cancelled  int    `json:"cancelled"`
}

// =============================================================================
// 流水线与统计
// =============================================================================

// StageInfo 阶段摘要。本地函数不可序列化，只暴露是否存在。
type StageInfo struct {
	ID           string             `json:"id"`
	Name         string             `json:"name,omitempty"`
	Kind         workflow.StageKind `json:"kind"`
	Provider     string             `json:"provider,omitempty"`
	Capability   llm.Capability     `json:"capability,omitempty"`
	LocalHandler bool               `json:"local_handler,omitempty"`
}

// PipelineInfo 流水线摘要
type PipelineInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Mode        workflow.Mode `json:"mode"`
	Stages      []StageInfo   `json:"stages"`
}

// NewPipelineInfo converts a registered pipeline into its API form.
func NewPipelineInfo(p workflow.Pipeline) PipelineInfo {
	info := PipelineInfo{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Mode:        p.Mode,
		Stages:      make([]StageInfo, 0, len(p.Stages)),
	}
	for _, st := range p.Stages {
		info.Stages = append(info.Stages, StageInfo{
			ID:           st.ID,
			Name:         st.Name,
			Kind:         st.Kind,
			Provider:     st.Provider,
			Capability:   st.Capability,
			LocalHandler: st.Transform != nil || st.Validate != nil,
		})
	}
	return info
}

// StatsResponse 调度统计与 provider 用量
type StatsResponse struct {
	orchestrator.Statistics
	Cost     llm.CostSummary `json:"cost"`
	InFlight int             `json:"in_flight"`
}

// HistoryList 归档查询结果
type HistoryList struct {
	Records []history.TaskRecord `json:"records"`
	Count   int                  `json:"count"`
}
