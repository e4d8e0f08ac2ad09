package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/api"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/orchestrator"
)

// StatsSource 调度统计
type StatsSource interface {
	Statistics() orchestrator.Statistics
}

// UsageSource provider 用量与进行中的调用数
type UsageSource interface {
	CostSummary() llm.CostSummary
	InFlight() int
}

// StatsHandler 统计 API
type StatsHandler struct {
	stats  StatsSource
	usage  UsageSource
	logger *zap.Logger
}

// NewStatsHandler creates a stats handler. usage may be nil.
func NewStatsHandler(stats StatsSource, usage UsageSource, logger *zap.Logger) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{stats: stats, usage: usage, logger: logger}
}

// HandleStats 返回任务计数、Agent 可用性与 provider 用量
// @Summary Statistics
// @Tags stats
// @Produce json
// @Success 200 {object} Response{data=api.StatsResponse}
// @Security ApiKeyAuth
// @Router /api/v1/stats [get]
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := api.StatsResponse{Statistics: h.stats.Statistics()}
	if h.usage != nil {
		resp.Cost = h.usage.CostSummary()
		resp.InFlight = h.usage.InFlight()
	}
	WriteSuccess(w, resp)
}
