package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/api"
	"github.com/BaSui01/taskflow/orchestrator"
)

// ExecutionService 绕过调度队列的同步执行
type ExecutionService interface {
	FanOut(ctx context.Context, prompt string, agentIDs []string) (*orchestrator.AggregateResult, error)
	RunAutonomous(ctx context.Context, goal string, constraints []string, maxSteps int) (*orchestrator.AutonomousResult, error)
}

// ExecuteHandler 同步多 Agent 与自治执行
type ExecuteHandler struct {
	exec   ExecutionService
	logger *zap.Logger
}

// NewExecuteHandler creates the synchronous execution handler.
func NewExecuteHandler(exec ExecutionService, logger *zap.Logger) *ExecuteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecuteHandler{exec: exec, logger: logger.With(zap.String("handler", "execute"))}
}

// HandleFanOut 并发调用多个 Agent 并合成结果
// @Summary Fan out
// @Tags execute
// @Accept json
// @Produce json
// @Param request body api.FanOutRequest true "Prompt and agents"
// @Success 200 {object} Response{data=orchestrator.AggregateResult}
// @Failure 502 {object} Response "All agents failed"
// @Security ApiKeyAuth
// @Router /api/v1/fanout [post]
func (h *ExecuteHandler) HandleFanOut(w http.ResponseWriter, r *http.Request) {
	var req api.FanOutRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	res, err := h.exec.FanOut(r.Context(), req.Prompt, req.Agents)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleAutonomous 执行规划-执行-验证循环
// @Summary Autonomous run
// @Tags execute
// @Accept json
// @Produce json
// @Param request body api.AutonomousRequest true "Goal"
// @Success 200 {object} Response{data=orchestrator.AutonomousResult}
// @Security ApiKeyAuth
// @Router /api/v1/autonomous [post]
func (h *ExecuteHandler) HandleAutonomous(w http.ResponseWriter, r *http.Request) {
	var req api.AutonomousRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	res, err := h.exec.RunAutonomous(r.Context(), req.Goal, req.Constraints, req.MaxSteps)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}
