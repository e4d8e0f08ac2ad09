package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/api"
	"github.com/BaSui01/taskflow/internal/history"
	"github.com/BaSui01/taskflow/types"
)

// HistoryStore 终态任务归档的查询端
type HistoryStore interface {
	Get(ctx context.Context, id string) (*history.TaskRecord, error)
	List(ctx context.Context, f history.Filter) ([]history.TaskRecord, error)
}

// HistoryHandler 任务归档 API。store 为 nil 时所有请求返回 503。
type HistoryHandler struct {
	store  HistoryStore
	logger *zap.Logger
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(store HistoryStore, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{store: store, logger: logger.With(zap.String("handler", "history"))}
}

func (h *HistoryHandler) available(w http.ResponseWriter) bool {
	if h.store == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable,
			"task history is disabled", h.logger)
		return false
	}
	return true
}

// HandleList 查询归档，支持 status、kind、agent、since(RFC3339)、limit
// @Summary Task history
// @Tags history
// @Produce json
// @Param status query string false "completed or failed"
// @Param kind query string false "Task kind"
// @Param agent query string false "Agent ID"
// @Param since query string false "RFC3339 timestamp"
// @Param limit query int false "Max results (default 100)"
// @Success 200 {object} Response{data=api.HistoryList}
// @Failure 503 {object} Response "History disabled"
// @Security ApiKeyAuth
// @Router /api/v1/history [get]
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	f := history.Filter{
		Status:  q.Get("status"),
		Kind:    q.Get("kind"),
		AgentID: q.Get("agent"),
		Limit:   limit,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, types.NewInvalidRequestError("since must be an RFC3339 timestamp"), h.logger)
			return
		}
		f.Since = since
	}

	records, err := h.store.List(r.Context(), f)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.HistoryList{Records: records, Count: len(records)})
}

// HandleGet 查询单条归档
// @Summary Task history record
// @Tags history
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response{data=history.TaskRecord}
// @Failure 404 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/history/{id} [get]
func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id := r.PathValue("id")
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		WriteError(w, types.NewTaskNotFoundError(id), h.logger)
		return
	}
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, rec)
}
