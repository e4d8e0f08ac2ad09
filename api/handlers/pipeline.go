package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/api"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// PipelineService 流水线注册表与同步执行
type PipelineService interface {
	ListPipelines() []workflow.Pipeline
	ExecutePipeline(ctx context.Context, pipelineID string, input any, history []types.Message) (*workflow.Result, error)
	CancelPipeline(pipelineID string) int
}

// PipelineHandler 流水线 API
type PipelineHandler struct {
	pipelines PipelineService
	logger    *zap.Logger
}

// NewPipelineHandler creates a pipeline handler.
func NewPipelineHandler(pipelines PipelineService, logger *zap.Logger) *PipelineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineHandler{pipelines: pipelines, logger: logger.With(zap.String("handler", "pipeline"))}
}

// HandleList 列出已注册的流水线
// @Summary List pipelines
// @Tags pipeline
// @Produce json
// @Success 200 {object} Response{data=[]api.PipelineInfo}
// @Security ApiKeyAuth
// @Router /api/v1/pipelines [get]
func (h *PipelineHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	all := h.pipelines.ListPipelines()
	out := make([]api.PipelineInfo, 0, len(all))
	for _, p := range all {
		out = append(out, api.NewPipelineInfo(p))
	}
	WriteSuccess(w, out)
}

// HandleGet 查询单条流水线定义
// @Summary Get pipeline
// @Tags pipeline
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} Response{data=api.PipelineInfo}
// @Failure 404 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/pipelines/{id} [get]
func (h *PipelineHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, p := range h.pipelines.ListPipelines() {
		if p.ID == id {
			WriteSuccess(w, api.NewPipelineInfo(p))
			return
		}
	}
	WriteError(w, types.NewUnknownPipelineError(id), h.logger)
}

// HandleExecute 同步执行流水线，客户端断开即取消
// @Summary Execute pipeline
// @Tags pipeline
// @Accept json
// @Produce json
// @Param id path string true "Pipeline ID"
// @Param request body api.ExecutePipelineRequest true "Input"
// @Success 200 {object} Response{data=workflow.Result}
// @Failure 404 {object} Response
// @Failure 422 {object} Response "Validation stage rejected the input"
// @Security ApiKeyAuth
// @Router /api/v1/pipelines/{id}/execute [post]
func (h *PipelineHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecutePipelineRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.pipelines.ExecutePipeline(r.Context(), r.PathValue("id"), req.Input, req.Context)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleCancel 取消该流水线全部进行中的执行
// @Summary Cancel pipeline runs
// @Tags pipeline
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} Response{data=api.CancelPipelineResponse}
// @Security ApiKeyAuth
// @Router /api/v1/pipelines/{id}/cancel [post]
func (h *PipelineHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n := h.pipelines.CancelPipeline(id)
	h.logger.Info("pipeline runs cancelled", zap.String("pipeline_id", id), zap.Int("count", n))
	WriteSuccess(w, api.CancelPipelineResponse{PipelineID: id, Cancelled: n})
}
