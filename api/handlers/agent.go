package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/agent"
	"github.com/BaSui01/taskflow/llm"
)

// AgentService Agent 目录的只读视图
type AgentService interface {
	ListAgents() []agent.Agent
	GetAgent(id string) (agent.Agent, error)
}

// AgentHandler Agent 查询 API
type AgentHandler struct {
	agents AgentService
	logger *zap.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(agents AgentService, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{agents: agents, logger: logger.With(zap.String("handler", "agent"))}
}

// HandleList 列出 Agent，可按 ?status= 与 ?capability= 过滤
// @Summary List agents
// @Tags agent
// @Produce json
// @Param status query string false "idle, busy or error"
// @Param capability query string false "Capability tag"
// @Success 200 {object} Response{data=[]agent.Agent}
// @Security ApiKeyAuth
// @Router /api/v1/agents [get]
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := agent.Status(r.URL.Query().Get("status"))
	capability := llm.Capability(r.URL.Query().Get("capability"))

	all := h.agents.ListAgents()
	out := make([]agent.Agent, 0, len(all))
	for _, a := range all {
		if status != "" && a.Status != status {
			continue
		}
		if capability != "" && !a.HasCapability(capability) {
			continue
		}
		out = append(out, a)
	}
	WriteSuccess(w, out)
}

// HandleGet 查询单个 Agent
// @Summary Get agent
// @Tags agent
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=agent.Agent}
// @Failure 404 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/agents/{id} [get]
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.GetAgent(r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, a)
}
