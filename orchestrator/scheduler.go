package orchestrator

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/types"
)

const instrumentationName = "github.com/BaSui01/taskflow/orchestrator"

// OutcomeRecorder 接收每次执行的耗时与成败，agent.Directory 是其标准实现。
type OutcomeRecorder interface {
	RecordOutcome(agentID string, elapsed time.Duration, succeeded bool) error
}

// TaskCounts 按状态统计的任务数
type TaskCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets the dispatch cadence.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithMaxRetries sets how many times a failed task is requeued.
func WithMaxRetries(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithOutcomeRecorder sets where per-agent outcomes are reported.
func WithOutcomeRecorder(r OutcomeRecorder) SchedulerOption {
	return func(s *Scheduler) { s.recorder = r }
}

// Scheduler 任务注册表与调度器。
//
// 固定节拍的分发循环每次取出一个最高优先级的待处理任务，交给独立的 goroutine 执行后立即返回，
// 不等待执行结束，因此并发数只受提交速度与 provider 延迟约束，没有工作池上限。
// 所有任务状态变更都在 mu 保护下完成，事件在锁外发布。
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	queue    taskQueue
	seq      uint64
	started  bool
	stopped  bool
	baseCtx  context.Context
	cancelFn context.CancelFunc

	handlers   Handlers
	recorder   OutcomeRecorder
	publisher  event.Publisher
	logger     *zap.Logger
	tracer     trace.Tracer
	tick       time.Duration
	maxRetries int
	now        func() time.Time

	stopCh   chan struct{}
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// NewScheduler 创建调度器。Start 之前提交的任务会排队等待。
func NewScheduler(handlers Handlers, publisher event.Publisher, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if err := handlers.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		tasks:      make(map[string]*Task),
		handlers:   handlers,
		publisher:  publisher,
		logger:     logger.With(zap.String("component", "scheduler")),
		tracer:     otel.Tracer(instrumentationName),
		tick:       DefaultTickInterval,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit 创建 pending 任务并立即返回其 ID。
func (s *Scheduler) Submit(payload Payload, priority int) (string, error) {
	payload, err := normalizePayload(payload)
	if err != nil {
		return "", err
	}
	if err := payload.validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", types.NewError(types.ErrSchedulerStopped, "scheduler is shut down").WithHTTPStatus(503)
	}
	t := &Task{
		ID:        uuid.NewString(),
		Kind:      payload.Kind(),
		Status:    StatusPending,
		Priority:  priority,
		Request:   payload,
		CreatedAt: s.now(),
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	s.enqueue(t)
	snap := t.snapshot()
	s.mu.Unlock()

	s.logger.Debug("task submitted",
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.Int("priority", priority))
	s.publish(event.TaskCreated, snap)
	return t.ID, nil
}

// Start 启动分发循环。ctx 是所有任务执行上下文的父级。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return types.NewError(types.ErrSchedulerStopped, "scheduler is shut down")
	}
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.baseCtx, s.cancelFn = context.WithCancel(context.WithoutCancel(ctx))

	go s.loop(ctx)
	s.logger.Info("scheduler started",
		zap.Duration("tick", s.tick),
		zap.Int("max_retries", s.maxRetries))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchNext()
		}
	}
}

// dispatchNext 取出一个任务并异步执行，不等待结果。队列为空时返回 false。
func (s *Scheduler) dispatchNext() bool {
	s.mu.Lock()
	if s.queue.Len() == 0 {
		s.mu.Unlock()
		return false
	}
	t := heap.Pop(&s.queue).(*Task)
	now := s.now()
	t.Status = StatusProcessing
	t.StartedAt = &now
	t.CompletedAt = nil

	parent := s.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	snap := t.snapshot()
	s.inflight.Add(1)
	s.mu.Unlock()

	s.publish(event.TaskStarted, snap)
	go s.run(ctx, snap)
	return true
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	defer s.inflight.Done()

	ctx, span := s.tracer.Start(ctx, "task.dispatch", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.kind", string(task.Kind)),
		attribute.Int("task.priority", task.Priority),
		attribute.Int("task.retries", task.Retries),
	))
	defer span.End()

	start := s.now()
	out, err := s.execute(ctx, task)
	elapsed := s.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.complete(task.ID, out, err, elapsed)
}

// execute 调用处理器，处理器 panic 视为一次失败
func (s *Scheduler) execute(ctx context.Context, task Task) (out Outcome, err error) {
	h, err := s.handlers.forKind(task.Kind)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task handler panicked", zap.String("task_id", task.ID), zap.Any("recover", r))
			err = types.NewError(types.ErrInternalError, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return h(ctx, task)
}

func (s *Scheduler) complete(taskID string, out Outcome, err error, elapsed time.Duration) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		// 执行期间被 PruneTerminal 之外的路径删除不应发生
		s.mu.Unlock()
		return
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if out.AgentID != "" {
		t.AgentID = out.AgentID
	}
	now := s.now()

	var evt event.Type
	cancelled := t.cancelled || types.IsCancelled(err) || errors.Is(err, context.Canceled)
	switch {
	case err == nil:
		t.Status = StatusCompleted
		t.Response = out.Response
		t.Error, t.ErrorCode = "", ""
		t.CompletedAt = &now
		evt = event.TaskCompleted

	case cancelled:
		t.Status = StatusFailed
		t.Error = "task cancelled"
		t.ErrorCode = types.ErrCancelled
		t.CompletedAt = &now
		evt = event.TaskFailed

	case t.Retries < s.maxRetries:
		t.Retries++
		t.Status = StatusPending
		t.Error, t.ErrorCode = err.Error(), types.GetErrorCode(err)
		if s.stopped {
			// 已停止的调度器不再分发，直接终结
			t.Status = StatusFailed
			t.CompletedAt = &now
			evt = event.TaskFailed
		} else {
			s.enqueue(t)
			evt = event.TaskRetry
		}

	default:
		t.Status = StatusFailed
		t.Error, t.ErrorCode = err.Error(), types.GetErrorCode(err)
		t.CompletedAt = &now
		evt = event.TaskFailed
	}
	snap := t.snapshot()
	s.mu.Unlock()

	logger := s.logger.With(
		zap.String("task_id", taskID),
		zap.String("kind", string(snap.Kind)),
		zap.Int("retries", snap.Retries),
		zap.Duration("elapsed", elapsed))
	switch evt {
	case event.TaskCompleted:
		logger.Debug("task completed")
	case event.TaskRetry:
		logger.Warn("task failed, requeued", zap.Error(err))
	default:
		logger.Warn("task failed", zap.Error(err), zap.Bool("cancelled", cancelled))
	}

	if s.recorder != nil && snap.AgentID != "" && !cancelled {
		if rerr := s.recorder.RecordOutcome(snap.AgentID, elapsed, err == nil); rerr != nil {
			logger.Warn("record agent outcome failed", zap.String("agent_id", snap.AgentID), zap.Error(rerr))
		}
	}
	s.publish(evt, snap)
}

// Cancel 取消任务：pending 任务直接出队并失败，processing 任务取消其上下文。
// 已结束的任务返回 InvalidRequest。
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return types.NewTaskNotFoundError(taskID)
	}

	switch t.Status {
	case StatusPending:
		if t.index >= 0 && t.index < s.queue.Len() && s.queue[t.index] == t {
			heap.Remove(&s.queue, t.index)
		}
		now := s.now()
		t.Status = StatusFailed
		t.Error = "task cancelled"
		t.ErrorCode = types.ErrCancelled
		t.cancelled = true
		t.CompletedAt = &now
		snap := t.snapshot()
		s.mu.Unlock()

		s.logger.Info("pending task cancelled", zap.String("task_id", taskID))
		s.publish(event.TaskFailed, snap)
		return nil

	case StatusProcessing:
		t.cancelled = true
		cancel := t.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.logger.Info("running task cancelled", zap.String("task_id", taskID))
		return nil

	default:
		status := t.Status
		s.mu.Unlock()
		return types.NewInvalidRequestError(fmt.Sprintf("task %q already %s", taskID, status)).WithHTTPStatus(409)
	}
}

// Get 返回任务快照
func (s *Scheduler) Get(taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, types.NewTaskNotFoundError(taskID)
	}
	return t.snapshot(), nil
}

// List 按提交顺序返回全部任务快照
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].snapshot())
	}
	return out
}

// Counts 按状态统计任务
func (s *Scheduler) Counts() TaskCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := TaskCounts{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch t.Status {
		case StatusPending:
			c.Pending++
		case StatusProcessing:
			c.Processing++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Pending returns the queue length.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// PruneTerminal 删除结束时间早于 olderThan 之前的终态任务，返回删除数量。
func (s *Scheduler) PruneTerminal(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status.Terminal() && t.CompletedAt != nil && !t.CompletedAt.After(cutoff) {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// Shutdown 停止分发并等待进行中的任务结束。
// ctx 到期时取消剩余任务并返回 ctx 的错误；仍在排队的任务保持 pending。
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	close(s.stopCh)
	s.mu.Unlock()

	if started {
		<-s.loopDone
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		cancel := s.cancelFn
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-done
		s.logger.Warn("scheduler shutdown interrupted in-flight tasks")
		return ctx.Err()
	}
}

func (s *Scheduler) enqueue(t *Task) {
	s.seq++
	t.seq = s.seq
	heap.Push(&s.queue, t)
}

func (s *Scheduler) publish(t event.Type, task Task) {
	if s.publisher != nil {
		s.publisher.Publish(event.New(t, task))
	}
}
