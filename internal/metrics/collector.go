// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/agent"
	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/orchestrator"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 任务、Agent、流水线指标来自事件总线；provider 指标来自 Router 的 CallObserver 回调。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Provider 指标
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerTokensUsed      *prometheus.CounterVec
	providerCost            *prometheus.CounterVec

	// 任务指标
	tasksSubmitted *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	taskRetries    *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	tasksInFlight  *prometheus.GaugeVec

	// Agent 指标
	agentStatus           *prometheus.GaugeVec
	agentStateTransitions *prometheus.CounterVec
	agentSuccessRate      *prometheus.GaugeVec

	// 流水线指标
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	pipelineStages   *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger

	mu           sync.Mutex
	running      map[string]orchestrator.Kind
	runStarted   map[string]time.Time
	agentStates  map[string]agent.Status
	subscription string
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger:      logger.With(zap.String("component", "metrics")),
		running:     make(map[string]orchestrator.Kind),
		runStarted:  make(map[string]time.Time),
		agentStates: make(map[string]agent.Status),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Provider 指标
	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider calls",
		},
		[]string{"provider", "model", "capability", "status"},
	)

	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.providerTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.providerCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_total",
			Help:      "Total provider cost in USD",
		},
		[]string{"provider", "model"},
	)

	// 任务指标
	c.tasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of submitted tasks",
		},
		[]string{"kind"},
	)

	c.tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks that reached a terminal state",
		},
		[]string{"kind", "status"},
	)

	c.taskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Total number of task retries",
		},
		[]string{"kind"},
	)

	c.taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of the final task attempt in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind", "status"},
	)

	c.tasksInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of tasks currently processing",
		},
		[]string{"kind"},
	)

	// Agent 指标
	c.agentStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_status",
			Help:      "1 for the current status of each agent, 0 otherwise",
		},
		[]string{"agent_id", "status"},
	)

	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.agentSuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_success_rate_percent",
			Help:      "Rolling success rate of each agent",
		},
		[]string{"agent_id"},
	)

	// 流水线指标
	c.pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of finished pipeline runs",
		},
		[]string{"pipeline_id", "status"},
	)

	c.pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pipeline_id"},
	)

	c.pipelineStages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stages_total",
			Help:      "Total number of executed pipeline stages",
		},
		[]string{"pipeline_id", "status"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔌 事件总线
// =============================================================================

// Subscriber 事件总线中 Collector 需要的部分
type Subscriber interface {
	Subscribe(t event.Type, handler event.Handler) string
	Unsubscribe(subscriptionID string)
}

// Attach 以通配订阅挂到事件总线上，重复调用会替换之前的订阅
func (c *Collector) Attach(bus Subscriber) {
	id := bus.Subscribe(event.All, c.HandleEvent)
	c.mu.Lock()
	prev := c.subscription
	c.subscription = id
	c.mu.Unlock()
	if prev != "" {
		bus.Unsubscribe(prev)
	}
}

// Detach 取消订阅
func (c *Collector) Detach(bus Subscriber) {
	c.mu.Lock()
	id := c.subscription
	c.subscription = ""
	c.mu.Unlock()
	if id != "" {
		bus.Unsubscribe(id)
	}
}

// HandleEvent 把一条事件转换为指标
func (c *Collector) HandleEvent(e event.Event) {
	switch p := e.Payload.(type) {
	case orchestrator.Task:
		c.recordTask(e.Type, p)
	case agent.Agent:
		c.recordAgent(p)
	case workflow.RunEvent:
		c.recordPipeline(e.Type, p, e.Timestamp)
	}
}

func (c *Collector) recordTask(t event.Type, task orchestrator.Task) {
	kind := string(task.Kind)
	switch t {
	case event.TaskCreated:
		c.tasksSubmitted.WithLabelValues(kind).Inc()
	case event.TaskStarted:
		c.mu.Lock()
		c.running[task.ID] = task.Kind
		c.mu.Unlock()
		c.tasksInFlight.WithLabelValues(kind).Inc()
	case event.TaskRetry:
		c.settle(task.ID)
		c.taskRetries.WithLabelValues(kind).Inc()
	case event.TaskCompleted, event.TaskFailed:
		c.settle(task.ID)
		status := string(task.Status)
		c.tasksFinished.WithLabelValues(kind, status).Inc()
		if d := task.Duration(); d > 0 {
			c.taskDuration.WithLabelValues(kind, status).Observe(d.Seconds())
		}
	}
}

// settle 结束一次执行；排队中被取消的任务从未开始，不影响 in-flight
func (c *Collector) settle(taskID string) {
	c.mu.Lock()
	kind, ok := c.running[taskID]
	delete(c.running, taskID)
	c.mu.Unlock()
	if ok {
		c.tasksInFlight.WithLabelValues(string(kind)).Dec()
	}
}

func (c *Collector) recordAgent(a agent.Agent) {
	c.mu.Lock()
	prev, seen := c.agentStates[a.ID]
	c.agentStates[a.ID] = a.Status
	c.mu.Unlock()

	if seen && prev != a.Status {
		c.agentStatus.WithLabelValues(a.ID, string(prev)).Set(0)
		c.RecordAgentStateTransition(a.ID, string(prev), string(a.Status))
	}
	c.agentStatus.WithLabelValues(a.ID, string(a.Status)).Set(1)
	c.agentSuccessRate.WithLabelValues(a.ID).Set(a.Performance.SuccessRate)
}

func (c *Collector) recordPipeline(t event.Type, run workflow.RunEvent, at time.Time) {
	switch t {
	case event.PipelineStarted:
		c.mu.Lock()
		c.runStarted[run.RunID] = at
		c.mu.Unlock()
	case event.PipelineStage:
		status := "ok"
		if run.Stage != nil && run.Stage.Failed() {
			status = "error"
		}
		c.pipelineStages.WithLabelValues(run.PipelineID, status).Inc()
	case event.PipelineCompleted, event.PipelineFailed:
		status := "completed"
		if t == event.PipelineFailed {
			status = "failed"
		}
		c.pipelineRuns.WithLabelValues(run.PipelineID, status).Inc()

		c.mu.Lock()
		started, ok := c.runStarted[run.RunID]
		delete(c.runStarted, run.RunID)
		c.mu.Unlock()
		if ok {
			c.pipelineDuration.WithLabelValues(run.PipelineID).Observe(at.Sub(started).Seconds())
		}
	}
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 Provider 指标记录
// =============================================================================

var _ llm.CallObserver = (*Collector)(nil)

// ObserveProviderCall 实现 llm.CallObserver
func (c *Collector) ObserveProviderCall(provider, model string, capability llm.Capability, status string, duration time.Duration, usage *types.TokenUsage) {
	c.providerRequestsTotal.WithLabelValues(provider, model, string(capability), status).Inc()
	c.providerRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if usage == nil {
		return
	}
	c.providerTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	c.providerTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
	if usage.Cost > 0 {
		c.providerCost.WithLabelValues(provider, model).Add(usage.Cost)
	}
}

// RecordAgentStateTransition 记录 Agent 状态转换
func (c *Collector) RecordAgentStateTransition(agentID, fromState, toState string) {
	c.agentStateTransitions.WithLabelValues(agentID, fromState, toState).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
