package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// runStage 按阶段类型执行一次，不含重试。
func (e *Engine) runStage(ctx context.Context, st *Stage, input any, history []types.Message) (any, error) {
	switch st.Kind {
	case StageProcess, StageEnhance:
		return e.callProvider(ctx, st, RenderPrompt(st.Prompt, Stringify(input)), history)

	case StageTransform:
		if st.Transform != nil {
			return st.Transform(ctx, input)
		}
		return e.callProvider(ctx, st, RenderPrompt(st.Prompt, Stringify(input)), history)

	case StageValidate:
		if st.Validate != nil {
			if st.Validate(input) {
				return input, nil
			}
			if st.Strict {
				return nil, types.NewValidationFailedError(st.ID)
			}
			return nil, nil
		}
		return e.callProvider(ctx, st, RenderPrompt(st.Prompt, Stringify(input)), history)

	case StageAggregate:
		return e.callProvider(ctx, st, RenderPrompt(st.Prompt, toJSON(input)), history)

	default:
		return nil, types.NewInvalidRequestError(fmt.Sprintf("stage %q has unknown kind %q", st.ID, st.Kind))
	}
}

func (e *Engine) callProvider(ctx context.Context, st *Stage, prompt string, history []types.Message) (any, error) {
	resp, err := e.executor.Execute(ctx, &llm.Request{
		ID:         uuid.NewString(),
		Capability: st.Capability,
		Prompt:     prompt,
		Provider:   st.Provider,
		Model:      st.Model,
		Parameters: st.Parameters,
		Context:    history,
	})
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// RenderPrompt 将 input 代入模板中第一个 {input}。模板为空时直接使用 input。
func RenderPrompt(template, input string) string {
	if template == "" {
		return input
	}
	return strings.Replace(template, InputPlaceholder, input, 1)
}

// Stringify 字符串原样返回，其余值序列化为 JSON。
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return toJSON(v)
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
