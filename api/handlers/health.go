package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readyTimeout 单次就绪检查的总超时
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 可插拔的依赖检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// ServiceHealthResponse 健康状态响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // healthy / unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass / fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth 处理 /health（进程存活即健康）
// @Summary 健康检查
// @Tags health
// @Produce json
// @Success 200 {object} ServiceHealthResponse
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// HandleHealthz Kubernetes liveness probe
// @Summary 存活探针
// @Tags health
// @Produce json
// @Success 200 {object} ServiceHealthResponse
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 并发执行全部已注册检查，任一失败返回 503
// @Summary 就绪检查
// @Tags health
// @Produce json
// @Success 200 {object} ServiceHealthResponse
// @Failure 503 {object} ServiceHealthResponse
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	// 检查失败不中断其他检查，所以 goroutine 总是返回 nil
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			results[i] = CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Error(err),
					zap.Duration("latency", latency),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	status := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	code := http.StatusOK
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	WriteJSON(w, code, status)
}

// HandleVersion 返回构建信息
// @Summary 版本信息
// @Tags health
// @Produce json
// @Success 200 {object} Response{data=map[string]string}
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的依赖检查（Redis、数据库等）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建依赖检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
