package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// SynthesisPrompt 合成调用的提示词前缀，后接成功分支的 JSON
const SynthesisPrompt = "Aggregate and synthesize these AI responses into a single comprehensive answer: "

// DefaultFanOutAgents 未指定 Agent 时的扇出目标
var DefaultFanOutAgents = []string{"openai", "anthropic", "google"}

// DefaultSynthesisProvider 负责合成的 provider
const DefaultSynthesisProvider = "anthropic"

// AgentTracker 扇出期间占用与释放 Agent
type AgentTracker interface {
	MarkBusy(agentID, taskID string) error
	MarkIdle(agentID string) error
}

// PartialResponse 单个分支的结果
type PartialResponse struct {
	AgentID  string        `json:"agent_id"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
	Content  string        `json:"content,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the branch succeeded.
func (p PartialResponse) OK() bool { return p.Error == "" }

// AggregateResult 扇出合成的最终结果。Partials 包含失败分支，合成提示词只包含成功分支。
type AggregateResult struct {
	Content   string            `json:"content"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Usage     *types.TokenUsage `json:"usage,omitempty"`
	Partials  []PartialResponse `json:"partials"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Timestamp time.Time         `json:"timestamp"`
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithSynthesisProvider sets the provider used for the synthesis call.
func WithSynthesisProvider(name string) AggregatorOption {
	return func(a *Aggregator) {
		if name != "" {
			a.synthesizer = name
		}
	}
}

// WithDefaultFanOutAgents sets the agents used when a request names none.
func WithDefaultFanOutAgents(ids []string) AggregatorOption {
	return func(a *Aggregator) {
		if len(ids) > 0 {
			a.defaults = append([]string(nil), ids...)
		}
	}
}

// Aggregator 把同一提示词并发发给多个 Agent，再由合成 provider 汇总。
type Aggregator struct {
	executor    llm.Executor
	agents      AgentTracker
	synthesizer string
	defaults    []string
	logger      *zap.Logger
}

// NewAggregator 创建扇出聚合器。agents 可为 nil（不跟踪占用）。
func NewAggregator(executor llm.Executor, agents AgentTracker, logger *zap.Logger, opts ...AggregatorOption) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		executor:    executor,
		agents:      agents,
		synthesizer: DefaultSynthesisProvider,
		defaults:    DefaultFanOutAgents,
		logger:      logger.With(zap.String("component", "aggregator")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FanOut 并发调用每个 Agent 并等待全部结束，一个分支失败不会取消其他分支。
// 所有 Agent 在返回前都会被释放。全部失败时返回 AllAgentsFailed。
func (a *Aggregator) FanOut(ctx context.Context, prompt string, agentIDs []string, taskID string) (*AggregateResult, error) {
	if len(agentIDs) == 0 {
		agentIDs = a.defaults
	}
	if taskID == "" {
		taskID = "fanout-" + uuid.NewString()
	}

	a.markBusy(agentIDs, taskID)
	partials := func() []PartialResponse {
		defer a.markIdle(agentIDs)
		return a.dispatch(ctx, prompt, agentIDs, taskID)
	}()

	res := &AggregateResult{Partials: partials}
	successes := make([]PartialResponse, 0, len(partials))
	var errs []error
	for _, p := range partials {
		if p.OK() {
			successes = append(successes, p)
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %s", p.AgentID, p.Error))
	}
	res.Succeeded, res.Failed = len(successes), len(errs)

	if err := ctx.Err(); err != nil {
		return nil, types.NewCancelledError("fan-out cancelled", err)
	}
	if len(successes) == 0 {
		a.logger.Warn("all fan-out branches failed", zap.String("task_id", taskID), zap.Strings("agents", agentIDs))
		return nil, types.NewAllAgentsFailedError(errs...)
	}

	resp, err := a.executor.Execute(ctx, &llm.Request{
		ID:       taskID + "-synthesis",
		Prompt:   SynthesisPrompt + synthesisInput(successes),
		Provider: a.synthesizer,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis via %s: %w", a.synthesizer, err)
	}

	res.Content = resp.Content
	res.Provider = resp.Provider
	res.Model = resp.Model
	res.Usage = resp.Usage
	res.Timestamp = time.Now()
	a.logger.Debug("fan-out synthesized",
		zap.String("task_id", taskID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (a *Aggregator) dispatch(ctx context.Context, prompt string, agentIDs []string, taskID string) []PartialResponse {
	partials := make([]PartialResponse, len(agentIDs))

	var g errgroup.Group
	for i, id := range agentIDs {
		i, id := i, id
		g.Go(func() error {
			start := time.Now()
			resp, err := a.executor.Execute(ctx, &llm.Request{
				ID:       fmt.Sprintf("%s-%s", taskID, id),
				Prompt:   prompt,
				Provider: id,
			})
			p := PartialResponse{AgentID: id, Duration: time.Since(start)}
			if err != nil {
				p.Error = err.Error()
				a.logger.Debug("fan-out branch failed", zap.String("agent_id", id), zap.Error(err))
			} else {
				p.Provider, p.Model, p.Content = resp.Provider, resp.Model, resp.Content
			}
			partials[i] = p
			// 分支失败只记录，不向 errgroup 返回，避免影响兄弟分支
			return nil
		})
	}
	_ = g.Wait()
	return partials
}

func (a *Aggregator) markBusy(ids []string, taskID string) {
	if a.agents == nil {
		return
	}
	for _, id := range ids {
		if err := a.agents.MarkBusy(id, taskID); err != nil {
			a.logger.Warn("mark agent busy failed", zap.String("agent_id", id), zap.Error(err))
		}
	}
}

func (a *Aggregator) markIdle(ids []string) {
	if a.agents == nil {
		return
	}
	for _, id := range ids {
		if err := a.agents.MarkIdle(id); err != nil {
			a.logger.Warn("mark agent idle failed", zap.String("agent_id", id), zap.Error(err))
		}
	}
}

// synthesisInput 只序列化成功分支的 agent/provider/model/content
func synthesisInput(successes []PartialResponse) string {
	type partial struct {
		AgentID  string `json:"agent_id"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Content  string `json:"content"`
	}
	out := make([]partial, len(successes))
	for i, s := range successes {
		out[i] = partial{AgentID: s.AgentID, Provider: s.Provider, Model: s.Model, Content: s.Content}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}
