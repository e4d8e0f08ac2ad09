package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/retry"
	"github.com/BaSui01/taskflow/types"
)

// RunEvent pipeline:* 事件的 payload
type RunEvent struct {
	RunID      string      `json:"run_id"`
	PipelineID string      `json:"pipeline_id"`
	Stage      *StageTrace `json:"stage,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Engine 流水线注册表与执行器。
// 注册表在 Register 之后只读；同一流水线可以并发执行多次，Cancel 会中止其全部运行。
type Engine struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	order     []string
	running   map[string]map[string]context.CancelFunc

	executor  llm.Executor
	publisher event.Publisher
	logger    *zap.Logger
}

// NewEngine 创建引擎。publisher 可为 nil。
func NewEngine(executor llm.Executor, publisher event.Publisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pipelines: make(map[string]*Pipeline),
		running:   make(map[string]map[string]context.CancelFunc),
		executor:  executor,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "pipeline_engine")),
	}
}

// Register 注册流水线，重复 ID 返回 DuplicatePipeline。
func (e *Engine) Register(p Pipeline) error {
	p = p.clone()
	if err := p.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.pipelines[p.ID]; dup {
		return types.NewDuplicatePipelineError(p.ID)
	}
	e.pipelines[p.ID] = &p
	e.order = append(e.order, p.ID)
	e.logger.Debug("pipeline registered",
		zap.String("pipeline_id", p.ID),
		zap.String("mode", string(p.Mode)),
		zap.Int("stages", len(p.Stages)))
	return nil
}

// RegisterDefaults 注册内置流水线
func (e *Engine) RegisterDefaults() error {
	for _, p := range DefaultPipelines() {
		if err := e.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Get 返回流水线定义副本
func (e *Engine) Get(id string) (Pipeline, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pipelines[id]
	if !ok {
		return Pipeline{}, false
	}
	return p.clone(), true
}

// List 按注册顺序返回全部流水线
func (e *Engine) List() []Pipeline {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Pipeline, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.pipelines[id].clone())
	}
	return out
}

// Running returns the number of in-flight runs of pipelineID.
func (e *Engine) Running(pipelineID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.running[pipelineID])
}

// Cancel 中止 pipelineID 的全部运行，返回被取消的运行数。
func (e *Engine) Cancel(pipelineID string) int {
	e.mu.Lock()
	runs := e.running[pipelineID]
	delete(e.running, pipelineID)
	e.mu.Unlock()

	for _, cancel := range runs {
		cancel()
	}
	if len(runs) > 0 {
		e.logger.Info("pipeline cancelled", zap.String("pipeline_id", pipelineID), zap.Int("runs", len(runs)))
	}
	return len(runs)
}

// Execute 执行流水线。
//
// 顺序模式下任一阶段最终失败都会中止整条流水线，已完成阶段的记录不返回；
// 并行模式下每个阶段独立成败，结果总是包含全部阶段。
func (e *Engine) Execute(ctx context.Context, pipelineID string, input any, history []types.Message) (*Result, error) {
	p, ok := e.Get(pipelineID)
	if !ok {
		return nil, types.NewUnknownPipelineError(pipelineID)
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	e.track(pipelineID, runID, cancel)
	defer func() {
		e.untrack(pipelineID, runID)
		cancel()
	}()

	logger := e.logger.With(zap.String("pipeline_id", pipelineID), zap.String("run_id", runID))
	logger.Debug("pipeline started", zap.String("mode", string(p.Mode)))
	e.publish(event.PipelineStarted, RunEvent{RunID: runID, PipelineID: pipelineID})

	start := time.Now()
	res := &Result{RunID: runID, PipelineID: p.ID, Pipeline: p.Name, Mode: p.Mode}

	var err error
	switch p.Mode {
	case ModeParallel:
		res.Stages = e.executeParallel(ctx, runID, &p, input, history)
	default:
		res.Stages, res.FinalOutput, err = e.executeSequential(ctx, runID, &p, input, history)
	}
	if ctx.Err() != nil && !types.IsCancelled(err) {
		cause := ctx.Err()
		if err != nil {
			cause = err
		}
		err = types.NewCancelledError(fmt.Sprintf("pipeline %q cancelled", pipelineID), cause)
	}
	if err != nil {
		logger.Warn("pipeline failed", zap.Error(err))
		e.publish(event.PipelineFailed, RunEvent{RunID: runID, PipelineID: pipelineID, Error: err.Error()})
		return nil, err
	}

	res.Duration = time.Since(start)
	res.Timestamp = time.Now()
	logger.Debug("pipeline completed", zap.Duration("duration", res.Duration))
	e.publish(event.PipelineCompleted, RunEvent{RunID: runID, PipelineID: pipelineID})
	return res, nil
}

func (e *Engine) executeSequential(ctx context.Context, runID string, p *Pipeline, input any, history []types.Message) ([]StageTrace, any, error) {
	traces := make([]StageTrace, 0, len(p.Stages))
	current := input

	for i := range p.Stages {
		st := &p.Stages[i]
		if err := ctx.Err(); err != nil {
			return nil, nil, types.NewCancelledError(fmt.Sprintf("pipeline %q cancelled before stage %q", p.ID, st.ID), err)
		}

		out, attempts, err := e.runWithRetry(ctx, p, st, current, history)
		if err != nil {
			e.publish(event.PipelineStage, RunEvent{RunID: runID, PipelineID: p.ID,
				Stage: &StageTrace{StageID: st.ID, Stage: st.Name, Error: err.Error(), Attempts: attempts, Timestamp: time.Now()}})
			return nil, nil, fmt.Errorf("stage %q (%s): %w", st.ID, st.Name, err)
		}

		tr := StageTrace{StageID: st.ID, Stage: st.Name, Output: out, Attempts: attempts, Timestamp: time.Now()}
		traces = append(traces, tr)
		e.publish(event.PipelineStage, RunEvent{RunID: runID, PipelineID: p.ID, Stage: &tr})
		current = out
	}
	return traces, current, nil
}

// executeParallel 所有阶段拿到同一份原始输入；分支失败只写入各自的记录，不取消兄弟分支。
func (e *Engine) executeParallel(ctx context.Context, runID string, p *Pipeline, input any, history []types.Message) []StageTrace {
	traces := make([]StageTrace, len(p.Stages))

	var g errgroup.Group
	for i := range p.Stages {
		i := i
		st := &p.Stages[i]
		g.Go(func() error {
			out, attempts, err := e.runBranch(ctx, p, st, input, history)
			tr := StageTrace{StageID: st.ID, Stage: st.Name, Attempts: attempts, Timestamp: time.Now()}
			if err != nil {
				tr.Error = err.Error()
			} else {
				tr.Output = out
			}
			traces[i] = tr
			e.publish(event.PipelineStage, RunEvent{RunID: runID, PipelineID: p.ID, Stage: &tr})
			return nil
		})
	}
	_ = g.Wait()
	return traces
}

// runBranch 在并行分支中执行阶段，panic 转为该分支的错误记录。
func (e *Engine) runBranch(ctx context.Context, p *Pipeline, st *Stage, input any, history []types.Message) (out any, attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline stage panicked",
				zap.String("pipeline_id", p.ID),
				zap.String("stage_id", st.ID),
				zap.Any("recover", r),
				zap.Stack("stack"))
			out, attempts = nil, max(attempts, 1)
			err = fmt.Errorf("stage %q panicked: %v", st.ID, r)
		}
	}()
	return e.runWithRetry(ctx, p, st, input, history)
}

// runWithRetry 执行单个阶段；流水线开启重试时按 base×n 线性退避。
// 取消与校验失败不重试。
func (e *Engine) runWithRetry(ctx context.Context, p *Pipeline, st *Stage, input any, history []types.Message) (any, int, error) {
	attempts := 0
	run := func() (any, error) {
		attempts++
		return e.runStage(ctx, st, input, history)
	}
	if !p.Retry.Enabled {
		out, err := run()
		return out, attempts, err
	}

	rp := p.Retry.withDefaults()
	policy := retry.LinearRetryPolicy(rp.MaxRetries, rp.BaseDelay)
	policy.ShouldRetry = shouldRetryStage
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.logger.Debug("retrying stage",
			zap.String("pipeline_id", p.ID),
			zap.String("stage_id", st.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	out, err := retry.DoTyped(ctx, retry.NewBackoffRetryer(policy, e.logger), run)
	return out, attempts, err
}

func shouldRetryStage(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !types.IsCancelled(err) && !types.IsErrorCode(err, types.ErrValidationFailed)
}

func (e *Engine) track(pipelineID, runID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[pipelineID] == nil {
		e.running[pipelineID] = make(map[string]context.CancelFunc)
	}
	e.running[pipelineID][runID] = cancel
}

func (e *Engine) untrack(pipelineID, runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runs := e.running[pipelineID]
	delete(runs, runID)
	if len(runs) == 0 {
		delete(e.running, pipelineID)
	}
}

func (e *Engine) publish(t event.Type, payload RunEvent) {
	if e.publisher != nil {
		e.publisher.Publish(event.New(t, payload))
	}
}
