package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/agent"
	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// Config 编排器配置，零值字段取默认值。
// MaxRetries 为 nil 时取 DefaultMaxRetries，指向 0 表示失败后不重试。
type Config struct {
	TickInterval      time.Duration `json:"tick_interval" yaml:"tick_interval"`
	MaxRetries        *int          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	SynthesisProvider string        `json:"synthesis_provider" yaml:"synthesis_provider"`
	FanOutAgents      []string      `json:"fan_out_agents" yaml:"fan_out_agents"`
	Roles             Roles         `json:"roles" yaml:"roles"`
}

// DefaultConfig returns the stock orchestrator settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:      DefaultTickInterval,
		MaxRetries:        Retries(DefaultMaxRetries),
		SynthesisProvider: DefaultSynthesisProvider,
		FanOutAgents:      append([]string(nil), DefaultFanOutAgents...),
		Roles:             DefaultRoles(),
	}
}

// Retries returns a pointer to n for Config.MaxRetries.
func Retries(n int) *int { return &n }

// Statistics 系统级统计快照
type Statistics struct {
	TotalTasks          int     `json:"total_tasks"`
	PendingTasks        int     `json:"pending_tasks"`
	ProcessingTasks     int     `json:"processing_tasks"`
	CompletedTasks      int     `json:"completed_tasks"`
	FailedTasks         int     `json:"failed_tasks"`
	ActiveAgents        int     `json:"active_agents"`
	TotalAgents         int     `json:"total_agents"`
	AverageResponseTime float64 `json:"average_response_time"`
	OverallSuccessRate  float64 `json:"overall_success_rate"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus shares an existing event bus.
func WithBus(b *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithDirectory shares an existing agent directory, e.g. one already wired to circuit breakers.
func WithDirectory(d *agent.Directory) Option {
	return func(o *Orchestrator) { o.directory = d }
}

// WithPipelineEngine shares an existing pipeline engine.
func WithPipelineEngine(e *workflow.Engine) Option {
	return func(o *Orchestrator) { o.pipelines = e }
}

// WithoutDefaultPipelines skips registration of the built-in pipelines.
func WithoutDefaultPipelines() Option {
	return func(o *Orchestrator) { o.skipDefaults = true }
}

// Orchestrator 持有总线、Agent 目录、路由、流水线引擎、调度器、聚合器与自主循环，
// 是所有入站操作的唯一入口。
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	bus        *event.Bus
	directory  *agent.Directory
	router     *llm.Router
	pipelines  *workflow.Engine
	scheduler  *Scheduler
	aggregator *Aggregator
	autonomous *AutonomousRunner

	skipDefaults bool
}

// New 创建编排器。未通过 Option 注入的组件使用默认实现。
func New(cfg Config, router *llm.Router, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if router == nil {
		return nil, errors.New("orchestrator: router is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "orchestrator")),
		router: router,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bus == nil {
		o.bus = event.NewBus(logger)
	}
	if o.directory == nil {
		o.directory = agent.NewDirectory(agent.DefaultSpecs(), o.bus, logger)
	}
	if o.pipelines == nil {
		o.pipelines = workflow.NewEngine(router, o.bus, logger)
	}
	if !o.skipDefaults {
		if err := o.pipelines.RegisterDefaults(); err != nil {
			return nil, err
		}
	}

	o.aggregator = NewAggregator(router, o.directory, logger,
		WithSynthesisProvider(cfg.SynthesisProvider),
		WithDefaultFanOutAgents(cfg.FanOutAgents))
	o.autonomous = NewAutonomousRunner(router, cfg.Roles, logger)

	maxRetries := DefaultMaxRetries
	if cfg.MaxRetries != nil {
		maxRetries = *cfg.MaxRetries
	}
	sched, err := NewScheduler(o.handlers(), o.bus, logger,
		WithTickInterval(cfg.TickInterval),
		WithMaxRetries(maxRetries),
		WithOutcomeRecorder(o.directory))
	if err != nil {
		return nil, err
	}
	o.scheduler = sched
	return o, nil
}

// Start 启动调度循环
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.scheduler.Start(ctx)
}

// Shutdown 停止调度并等待进行中的任务
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.scheduler.Shutdown(ctx)
}

// Submit 提交任务，立即返回任务 ID
func (o *Orchestrator) Submit(payload Payload, priority int) (string, error) {
	return o.scheduler.Submit(payload, priority)
}

// GetTask returns a snapshot of one task.
func (o *Orchestrator) GetTask(id string) (Task, error) {
	return o.scheduler.Get(id)
}

// ListTasks returns every task in submission order.
func (o *Orchestrator) ListTasks() []Task {
	return o.scheduler.List()
}

// Cancel 取消排队或执行中的任务
func (o *Orchestrator) Cancel(taskID string) error {
	return o.scheduler.Cancel(taskID)
}

// PruneTerminal drops finished tasks older than d.
func (o *Orchestrator) PruneTerminal(d time.Duration) int {
	return o.scheduler.PruneTerminal(d)
}

// ListAgents returns every agent in registration order.
func (o *Orchestrator) ListAgents() []agent.Agent {
	return o.directory.List()
}

// GetAgent returns one agent snapshot.
func (o *Orchestrator) GetAgent(id string) (agent.Agent, error) {
	return o.directory.Get(id)
}

// Statistics 汇总任务与 Agent 的当前状态，纯读取
func (o *Orchestrator) Statistics() Statistics {
	c := o.scheduler.Counts()
	a := o.directory.Stats()
	return Statistics{
		TotalTasks:          c.Total,
		PendingTasks:        c.Pending,
		ProcessingTasks:     c.Processing,
		CompletedTasks:      c.Completed,
		FailedTasks:         c.Failed,
		ActiveAgents:        a.Busy,
		TotalAgents:         a.Total,
		AverageResponseTime: a.AvgResponseMs,
		OverallSuccessRate:  a.AvgSuccessRate,
	}
}

// ExecutePipeline 同步执行一条流水线，不经过调度队列
func (o *Orchestrator) ExecutePipeline(ctx context.Context, pipelineID string, input any, history []types.Message) (*workflow.Result, error) {
	return o.pipelines.Execute(ctx, pipelineID, input, history)
}

// ListPipelines returns the registered pipelines.
func (o *Orchestrator) ListPipelines() []workflow.Pipeline {
	return o.pipelines.List()
}

// CancelPipeline aborts every running execution of pipelineID.
func (o *Orchestrator) CancelPipeline(pipelineID string) int {
	return o.pipelines.Cancel(pipelineID)
}

// FanOut 同步执行一次多 Agent 扇出
func (o *Orchestrator) FanOut(ctx context.Context, prompt string, agentIDs []string) (*AggregateResult, error) {
	if err := (FanOutRequest{Prompt: prompt}).validate(); err != nil {
		return nil, err
	}
	return o.aggregator.FanOut(ctx, prompt, agentIDs, "")
}

// RunAutonomous 同步执行自主循环
func (o *Orchestrator) RunAutonomous(ctx context.Context, goal string, constraints []string, maxSteps int) (*AutonomousResult, error) {
	if err := (AutonomousRequest{Goal: goal, MaxSteps: maxSteps}).validate(); err != nil {
		return nil, err
	}
	return o.autonomous.Run(ctx, goal, constraints, maxSteps)
}

// Subscribe registers handler for events of type t; event.All receives everything.
func (o *Orchestrator) Subscribe(t event.Type, handler event.Handler) string {
	return o.bus.Subscribe(t, handler)
}

// Unsubscribe removes a subscription.
func (o *Orchestrator) Unsubscribe(id string) {
	o.bus.Unsubscribe(id)
}

func (o *Orchestrator) Bus() *event.Bus             { return o.bus }
func (o *Orchestrator) Directory() *agent.Directory { return o.directory }
func (o *Orchestrator) Router() *llm.Router         { return o.router }
func (o *Orchestrator) Pipelines() *workflow.Engine { return o.pipelines }
func (o *Orchestrator) Scheduler() *Scheduler       { return o.scheduler }
