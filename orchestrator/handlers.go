package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// handlers 把四种任务类型绑定到 Orchestrator 持有的组件上
func (o *Orchestrator) handlers() Handlers {
	return Handlers{
		Simple:     o.handleSimple,
		Pipeline:   o.handlePipeline,
		MultiAgent: o.handleMultiAgent,
		Autonomous: o.handleAutonomous,
	}
}

// handleSimple 选 Agent、占用、调用 provider、释放。
// 指定了 provider 时直接使用它对应的 Agent，否则只在已注册 provider 的 Agent 中按能力挑选。
func (o *Orchestrator) handleSimple(ctx context.Context, task Task) (Outcome, error) {
	req, ok := task.Request.(SimpleRequest)
	if !ok {
		return Outcome{}, types.NewInvalidRequestError(fmt.Sprintf("unexpected payload %T for simple task", task.Request))
	}

	agentID, provider := o.pickAgent(req)
	if agentID != "" {
		if err := o.directory.MarkBusy(agentID, task.ID); err != nil {
			o.logger.Warn("mark agent busy failed", zap.String("agent_id", agentID), zap.Error(err))
		}
		defer func() {
			if err := o.directory.MarkIdle(agentID); err != nil {
				o.logger.Warn("mark agent idle failed", zap.String("agent_id", agentID), zap.Error(err))
			}
		}()
	}

	resp, err := o.router.Execute(ctx, &llm.Request{
		// 每次尝试使用独立的请求 ID，避免命中上一次尝试的缓存或合并
		ID:         fmt.Sprintf("%s-%d", task.ID, task.Retries),
		Capability: req.capability(),
		Prompt:     req.Prompt,
		Provider:   provider,
		Model:      req.Model,
		Parameters: req.Parameters,
		Context:    req.Context,
	})
	if err != nil {
		return Outcome{AgentID: agentID}, err
	}
	return Outcome{Response: resp, AgentID: agentID}, nil
}

// pickAgent 返回要占用的 Agent 与要请求的 provider。
// 没有任何 Agent 对应已注册的 provider 时 agentID 为空，由路由策略决定 provider，不记账。
func (o *Orchestrator) pickAgent(req SimpleRequest) (agentID, provider string) {
	if req.Provider != "" {
		if o.directory.Has(req.Provider) {
			return req.Provider, req.Provider
		}
		return "", req.Provider
	}
	a, ok := o.directory.SelectBestFunc(req.capability(), o.router.Registry().Has)
	if !ok {
		return "", ""
	}
	return a.ID, a.ID
}

func (o *Orchestrator) handlePipeline(ctx context.Context, task Task) (Outcome, error) {
	req, ok := task.Request.(PipelineRequest)
	if !ok {
		return Outcome{}, types.NewInvalidRequestError(fmt.Sprintf("unexpected payload %T for pipeline task", task.Request))
	}
	res, err := o.pipelines.Execute(ctx, req.PipelineID, req.Input, req.Context)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Response: res}, nil
}

// handleMultiAgent 由 Aggregator 负责占用与释放各 Agent，任务本身不记录单个 Agent。
func (o *Orchestrator) handleMultiAgent(ctx context.Context, task Task) (Outcome, error) {
	req, ok := task.Request.(FanOutRequest)
	if !ok {
		return Outcome{}, types.NewInvalidRequestError(fmt.Sprintf("unexpected payload %T for multi-agent task", task.Request))
	}
	res, err := o.aggregator.FanOut(ctx, req.Prompt, req.AgentIDs, task.ID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Response: res}, nil
}

func (o *Orchestrator) handleAutonomous(ctx context.Context, task Task) (Outcome, error) {
	req, ok := task.Request.(AutonomousRequest)
	if !ok {
		return Outcome{}, types.NewInvalidRequestError(fmt.Sprintf("unexpected payload %T for autonomous task", task.Request))
	}
	res, err := o.autonomous.Run(ctx, req.Goal, req.Constraints, req.MaxSteps)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Response: res}, nil
}
