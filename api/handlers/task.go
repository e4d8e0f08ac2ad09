package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/api"
	"github.com/BaSui01/taskflow/orchestrator"
	"github.com/BaSui01/taskflow/types"
)

// =============================================================================
// Task Handler
// =============================================================================

// TaskService 任务提交、查询与取消
type TaskService interface {
	Submit(payload orchestrator.Payload, priority int) (string, error)
	GetTask(id string) (orchestrator.Task, error)
	ListTasks() []orchestrator.Task
	Cancel(taskID string) error
}

// TaskHandler 任务 API
type TaskHandler struct {
	tasks  TaskService
	logger *zap.Logger
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(tasks TaskService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{tasks: tasks, logger: logger.With(zap.String("handler", "task"))}
}

// HandleSubmit 提交任务，立即返回 202 与任务 ID
// @Summary Submit task
// @Tags task
// @Accept json
// @Produce json
// @Param request body api.SubmitTaskRequest true "Task"
// @Success 202 {object} Response{data=api.SubmitTaskResponse}
// @Failure 400 {object} Response
// @Failure 503 {object} Response "Scheduler stopped"
// @Security ApiKeyAuth
// @Router /api/v1/tasks [post]
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	payload, err := req.Payload()
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	id, err := h.tasks.Submit(payload, req.PriorityOr(orchestrator.DefaultPriority))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	WriteCreated(w, http.StatusAccepted, api.SubmitTaskResponse{
		TaskID: id,
		Kind:   payload.Kind(),
		Status: string(orchestrator.StatusPending),
	})
}

// HandleList 列出内存中的任务，按创建时间倒序。
// 支持 ?status=、?kind=、?limit= 过滤。
// @Summary List tasks
// @Tags task
// @Produce json
// @Param status query string false "Status filter"
// @Param kind query string false "Kind filter"
// @Param limit query int false "Max results"
// @Success 200 {object} Response{data=api.TaskList}
// @Security ApiKeyAuth
// @Router /api/v1/tasks [get]
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	status := orchestrator.Status(q.Get("status"))
	kind := orchestrator.Kind(q.Get("kind"))

	all := h.tasks.ListTasks()
	out := make([]orchestrator.Task, 0, len(all))
	for _, t := range all {
		if status != "" && t.Status != status {
			continue
		}
		if kind != "" && t.Kind != kind {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	total := len(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	WriteSuccess(w, api.TaskList{Tasks: out, Total: total})
}

// HandleGet 查询单个任务
// @Summary Get task
// @Tags task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response{data=orchestrator.Task}
// @Failure 404 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.GetTask(r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}

// HandleCancel 取消等待中或执行中的任务；已结束的任务返回 409
// @Summary Cancel task
// @Tags task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response{data=orchestrator.Task}
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/tasks/{id}/cancel [post]
func (h *TaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.tasks.Cancel(id); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	task, err := h.tasks.GetTask(id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, types.NewInvalidRequestError("limit must be a non-negative integer")
	}
	return n, nil
}
