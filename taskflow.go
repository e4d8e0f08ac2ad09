package taskflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/agent"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/internal/cache"
	"github.com/BaSui01/taskflow/internal/database"
	"github.com/BaSui01/taskflow/internal/history"
	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/circuitbreaker"
	"github.com/BaSui01/taskflow/llm/factory"
	"github.com/BaSui01/taskflow/llm/tokenizer"
	"github.com/BaSui01/taskflow/orchestrator"
	"github.com/BaSui01/taskflow/workflow/dsl"
)

// Option customizes New.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	registry  *llm.ProviderRegistry
	collector *metrics.Collector
	namespace string
}

// WithLogger sets the root logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry 使用现成的 provider 注册表，跳过按配置创建 provider
func WithRegistry(r *llm.ProviderRegistry) Option {
	return func(o *options) { o.registry = r }
}

// WithCollector shares a metrics collector instead of creating one.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithMetricsNamespace sets the Prometheus namespace of the collector New creates.
func WithMetricsNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// App 组装后的运行时：编排器及其依赖的缓存、归档、指标。
// 可选组件（Cache、DB、History）在配置未启用时为 nil。
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Bus          *event.Bus
	Directory    *agent.Directory
	Router       *llm.Router
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Collector

	Cache   *cache.Manager
	DB      *database.PoolManager
	History *history.Store

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New 按配置组装整个运行时，但不启动调度循环
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := options{namespace: "taskflow"}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.closeResources()
		}
	}()

	app.Bus = event.NewBus(logger)
	app.Directory = agent.NewDirectory(agent.DefaultSpecs(), app.Bus, logger)

	app.Metrics = o.collector
	if app.Metrics == nil {
		app.Metrics = metrics.NewCollector(o.namespace, logger)
	}
	app.Metrics.Attach(app.Bus)

	registry := o.registry
	if registry == nil {
		var err error
		registry, err = app.buildRegistry()
		if err != nil {
			return nil, err
		}
	}

	responseCache, err := app.buildCache()
	if err != nil {
		return nil, err
	}

	app.Router = llm.NewRouter(registry, logger,
		llm.WithResponseCache(responseCache),
		llm.WithTokenCounter(tokenizer.ForModel("gpt-4o", logger)),
		llm.WithCostCalculator(llm.NewCostCalculator()),
		llm.WithCallObserver(app.Metrics),
	)

	orch, err := orchestrator.New(orchestratorConfig(cfg.Orchestrator), app.Router, logger,
		orchestrator.WithBus(app.Bus),
		orchestrator.WithDirectory(app.Directory),
		pipelineDefaults(cfg.Pipeline),
	)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	app.Orchestrator = orch

	parser := dsl.NewParser()
	for _, file := range cfg.Pipeline.DefinitionFiles {
		n, err := parser.LoadInto(orch.Pipelines(), file)
		if err != nil {
			return nil, fmt.Errorf("load pipeline definitions from %s: %w", file, err)
		}
		logger.Info("pipeline definitions loaded", zap.String("file", file), zap.Int("count", n))
	}

	if err := app.buildHistory(); err != nil {
		return nil, err
	}

	ok = true
	return app, nil
}

// buildRegistry 按配置创建 provider。开启熔断的 provider 在熔断打开时
// 把同名 agent 标记为 error，恢复后标记回 idle。
func (a *App) buildRegistry() (*llm.ProviderRegistry, error) {
	rc := a.Config.LLM.RegistryConfig()
	for name, pc := range rc.Providers {
		if pc.CircuitBreaker == nil {
			continue
		}
		cb := *pc.CircuitBreaker
		cb.OnStateChange = a.onBreakerStateChange
		pc.CircuitBreaker = &cb
		rc.Providers[name] = pc
	}

	registry, err := factory.NewRegistryFromConfig(rc, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("create provider registry: %w", err)
	}
	if len(registry.List()) == 0 {
		a.Logger.Warn("no providers registered; tasks will fail until an API key is configured")
	}
	return registry, nil
}

func (a *App) onBreakerStateChange(provider string, from, to circuitbreaker.State) {
	if !a.Directory.Has(provider) {
		return
	}
	if to == circuitbreaker.StateOpen || from == circuitbreaker.StateOpen {
		if err := a.Directory.SetError(provider, to == circuitbreaker.StateOpen); err != nil {
			a.Logger.Warn("failed to update agent after breaker change",
				zap.String("provider", provider), zap.Error(err))
		}
	}
}

// buildCache Redis 启用时使用两级缓存，否则只用本地 LRU
func (a *App) buildCache() (llm.ResponseCache, error) {
	cc := a.Config.Cache
	if !cc.Enabled {
		return nil, nil
	}
	local := llm.DefaultCacheConfig()
	local.LocalMaxSize = cc.LocalMaxSize
	local.LocalTTL = cc.LocalTTL
	local.RedisTTL = cc.RedisTTL
	if cc.KeyPrefix != "" {
		local.KeyPrefix = cc.KeyPrefix
	}

	rc := a.Config.Redis
	if !rc.Enabled {
		local.EnableRedis = false
		return metrics.InstrumentCache(llm.NewMultiLevelCache(nil, local, a.Logger), a.Metrics, "local"), nil
	}

	mgr, err := cache.NewManager(cache.Config{
		Addr:                rc.Addr,
		Password:            rc.Password,
		DB:                  rc.DB,
		MaxRetries:          3,
		PoolSize:            rc.PoolSize,
		MinIdleConns:        rc.MinIdleConns,
		HealthCheckInterval: 30 * time.Second,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Cache = mgr
	return metrics.InstrumentCache(mgr.ResponseCache(local), a.Metrics, "multi_level"), nil
}

func (a *App) buildHistory() error {
	dc := a.Config.Database
	if !dc.Enabled {
		return nil
	}
	pool, err := database.Open(dc, a.Logger, database.WithStatsObserver(a.Metrics))
	if err != nil {
		return err
	}
	a.DB = pool

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := history.NewStore(ctx, pool, a.Logger, history.WithQueryObserver(a.Metrics))
	if err != nil {
		return err
	}
	store.Attach(a.Bus)
	a.History = store
	return nil
}

func orchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.TickInterval = c.TickInterval
	oc.MaxRetries = orchestrator.Retries(c.MaxRetries)
	if c.SynthesisProvider != "" {
		oc.SynthesisProvider = c.SynthesisProvider
	}
	if len(c.FanOutAgents) > 0 {
		oc.FanOutAgents = append([]string(nil), c.FanOutAgents...)
	}
	if c.PlannerProvider != "" {
		oc.Roles.Planner = c.PlannerProvider
	}
	if c.ExecutorProvider != "" {
		oc.Roles.Executor = c.ExecutorProvider
	}
	if c.VerifierProvider != "" {
		oc.Roles.Verifier = c.VerifierProvider
	}
	return oc
}

func pipelineDefaults(c config.PipelineConfig) orchestrator.Option {
	if c.RegisterDefaults {
		return func(*orchestrator.Orchestrator) {}
	}
	return orchestrator.WithoutDefaultPipelines()
}

// Start 启动调度循环，TaskRetention > 0 时定期清理内存中的终态任务
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("taskflow: already started")
	}
	if err := a.Orchestrator.Start(ctx); err != nil {
		return err
	}
	a.started = true

	retention := a.Config.Orchestrator.TaskRetention
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	if retention <= 0 {
		close(a.done)
		return nil
	}
	go a.pruneLoop(retention)
	return nil
}

func (a *App) pruneLoop(retention time.Duration) {
	defer close(a.done)

	interval := retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if n := a.Orchestrator.PruneTerminal(retention); n > 0 {
				a.Logger.Debug("pruned terminal tasks", zap.Int("count", n))
			}
		}
	}
}

// Check 依次检查可选依赖的连通性，返回组件名到错误的映射，nil 表示正常
func (a *App) Check(ctx context.Context) map[string]error {
	out := map[string]error{}
	if a.Cache != nil {
		out["redis"] = a.Cache.Ping(ctx)
	}
	if a.DB != nil {
		out["database"] = a.DB.Ping(ctx)
	}
	return out
}

// Shutdown 停止调度并释放所有资源。进行中的任务最长等待到 ctx 结束。
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	var errs []error
	if started {
		close(a.stop)
		<-a.done
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: %w", err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	if a.History != nil {
		a.History.Detach()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if a.Metrics != nil && a.Bus != nil {
		a.Metrics.Detach(a.Bus)
	}
	return errors.Join(errs...)
}
