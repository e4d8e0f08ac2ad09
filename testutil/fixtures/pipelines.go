// Package fixtures 提供测试用的流水线定义与 provider 组合。
package fixtures

import (
	"context"
	"fmt"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/workflow"
)

// LocalPipeline 只含本地 transform 阶段的顺序流水线，不调用任何 provider。
// 每个阶段把 "|<step>" 追加到字符串输入后面。
func LocalPipeline(id string, steps ...string) workflow.Pipeline {
	p := workflow.Pipeline{
		ID:   id,
		Name: id,
		Mode: workflow.ModeSequential,
	}
	for _, step := range steps {
		step := step
		p.Stages = append(p.Stages, workflow.Stage{
			ID:         step,
			Name:       step,
			Kind:       workflow.StageTransform,
			Capability: llm.CapabilityText,
			Transform: func(_ context.Context, input any) (any, error) {
				return fmt.Sprintf("%v|%s", input, step), nil
			},
		})
	}
	return p
}

// ProviderPipeline 每个能力一个 process 阶段，提示词直接透传上一阶段输出
func ProviderPipeline(id string, mode workflow.Mode, caps ...llm.Capability) workflow.Pipeline {
	p := workflow.Pipeline{
		ID:   id,
		Name: id,
		Mode: mode,
	}
	for i, c := range caps {
		p.Stages = append(p.Stages, workflow.Stage{
			ID:         fmt.Sprintf("stage-%d", i+1),
			Name:       fmt.Sprintf("%s stage", c),
			Kind:       workflow.StageProcess,
			Capability: c,
			Prompt:     workflow.InputPlaceholder,
		})
	}
	return p
}

// RejectingPipeline 第二阶段是严格校验，总是拒绝并使流水线失败
func RejectingPipeline(id string) workflow.Pipeline {
	p := LocalPipeline(id, "prepare")
	p.Stages = append(p.Stages, workflow.Stage{
		ID:         "gate",
		Name:       "gate",
		Kind:       workflow.StageValidate,
		Capability: llm.CapabilityText,
		Validate:   func(any) bool { return false },
		Strict:     true,
	})
	return p
}
