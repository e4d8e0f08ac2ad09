package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/internal/database"
	"github.com/BaSui01/taskflow/orchestrator"
)

// ErrNotFound 归档中没有该任务
var ErrNotFound = errors.New("task record not found")

const (
	defaultQueueSize = 256
	defaultListLimit = 100
	saveAttempts     = 3
)

// TaskRecord 终态任务的持久化形式。Request/Response 以 JSON 文本存储。
type TaskRecord struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	Kind        string     `gorm:"size:32;index" json:"kind"`
	Status      string     `gorm:"size:16;index" json:"status"`
	Priority    int        `json:"priority"`
	AgentID     string     `gorm:"size:64;index" json:"agent_id,omitempty"`
	Request     string     `gorm:"type:text" json:"request"`
	Response    string     `gorm:"type:text" json:"response,omitempty"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	ErrorCode   string     `gorm:"size:64" json:"error_code,omitempty"`
	Retries     int        `json:"retries"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName 固定表名
func (TaskRecord) TableName() string { return "task_history" }

// FromTask 把任务快照转换为归档记录
func FromTask(task orchestrator.Task) (TaskRecord, error) {
	req, err := json.Marshal(task.Request)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("encode request of task %s: %w", task.ID, err)
	}
	rec := TaskRecord{
		ID:          task.ID,
		Kind:        string(task.Kind),
		Status:      string(task.Status),
		Priority:    task.Priority,
		AgentID:     task.AgentID,
		Request:     string(req),
		Error:       task.Error,
		ErrorCode:   string(task.ErrorCode),
		Retries:     task.Retries,
		DurationMs:  task.Duration().Milliseconds(),
		CreatedAt:   task.CreatedAt.UTC(),
		StartedAt:   utc(task.StartedAt),
		CompletedAt: utc(task.CompletedAt),
	}
	if task.Response != nil {
		resp, err := json.Marshal(task.Response)
		if err != nil {
			return TaskRecord{}, fmt.Errorf("encode response of task %s: %w", task.ID, err)
		}
		rec.Response = string(resp)
	}
	return rec, nil
}

// sqlite 以文本比较时间，统一存 UTC
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// Filter 列表查询条件，零值字段不参与过滤
type Filter struct {
	Status  string
	Kind    string
	AgentID string
	Since   time.Time
	Limit   int
}

// QueryObserver 接收每次数据库操作的耗时
type QueryObserver interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Subscriber 事件总线的订阅端
type Subscriber interface {
	Subscribe(t event.Type, h event.Handler) string
	Unsubscribe(id string)
}

// Option 配置 Store
type Option func(*Store)

// WithQueryObserver 上报查询耗时
func WithQueryObserver(o QueryObserver) Option {
	return func(s *Store) { s.observer = o }
}

// WithQueueSize 设置异步写入队列长度
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Store 终态任务归档。
// 通过 Attach 订阅事件后，写入在独立 goroutine 中完成，不阻塞调度器。
type Store struct {
	pool      *database.PoolManager
	observer  QueryObserver
	logger    *zap.Logger
	queueSize int

	mu      sync.Mutex
	bus     Subscriber
	subs    []string
	queue   chan orchestrator.Task
	done    chan struct{}
	dropped int64
}

// NewStore 迁移表结构并返回 Store
func NewStore(ctx context.Context, pool *database.PoolManager, logger *zap.Logger, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, errors.New("history: database pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		pool:      pool,
		logger:    logger.With(zap.String("component", "task_history")),
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := pool.DB().WithContext(ctx).AutoMigrate(&TaskRecord{}); err != nil {
		return nil, fmt.Errorf("history: migrate task_history: %w", err)
	}
	return s, nil
}

func (s *Store) observe(op string, start time.Time) {
	if s.observer != nil {
		s.observer.RecordDBQuery(s.pool.Name(), op, time.Since(start))
	}
}

// Save 写入或覆盖一条记录
func (s *Store) Save(ctx context.Context, task orchestrator.Task) error {
	rec, err := FromTask(task)
	if err != nil {
		return err
	}
	defer s.observe("save", time.Now())

	return s.pool.WithTransactionRetry(ctx, saveAttempts, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
}

// Get 按任务 ID 查询
func (s *Store) Get(ctx context.Context, id string) (*TaskRecord, error) {
	defer s.observe("get", time.Now())

	var rec TaskRecord
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", id, err)
	}
	return &rec, nil
}

// List 按创建时间倒序返回匹配的记录，Limit 为 0 时取 100 条
func (s *Store) List(ctx context.Context, f Filter) ([]TaskRecord, error) {
	defer s.observe("list", time.Now())

	q := s.pool.DB().WithContext(ctx).Model(&TaskRecord{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var out []TaskRecord
	if err := q.Order("created_at DESC").Order("id").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Count 返回记录总数
func (s *Store) Count(ctx context.Context) (int64, error) {
	defer s.observe("count", time.Now())

	var n int64
	if err := s.pool.DB().WithContext(ctx).Model(&TaskRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Prune 删除 before 之前完成的记录，返回删除条数
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	defer s.observe("prune", time.Now())

	res := s.pool.DB().WithContext(ctx).Where("completed_at < ?", before.UTC()).Delete(&TaskRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("history: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// =============================================================================
// 📥 事件订阅
// =============================================================================

// Attach 订阅 task:completed 与 task:failed 并异步写入。重复调用会先解除旧订阅。
func (s *Store) Attach(bus Subscriber) {
	s.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bus = bus
	s.queue = make(chan orchestrator.Task, s.queueSize)
	s.done = make(chan struct{})
	go s.writeLoop(s.queue, s.done)

	for _, t := range []event.Type{event.TaskCompleted, event.TaskFailed} {
		s.subs = append(s.subs, bus.Subscribe(t, s.handle))
	}
}

func (s *Store) handle(e event.Event) {
	task, ok := e.Payload.(orchestrator.Task)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return
	}
	select {
	case s.queue <- task:
	default:
		s.dropped++
		s.logger.Warn("history queue full, dropping record",
			zap.String("task_id", task.ID),
			zap.Int64("dropped", s.dropped),
		)
	}
}

func (s *Store) writeLoop(queue <-chan orchestrator.Task, done chan<- struct{}) {
	defer close(done)
	for task := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Save(ctx, task); err != nil {
			s.logger.Error("failed to archive task", zap.String("task_id", task.ID), zap.Error(err))
		}
		cancel()
	}
}

// Detach 解除订阅并等待队列中剩余记录写完
func (s *Store) Detach() {
	s.mu.Lock()
	if s.bus == nil {
		s.mu.Unlock()
		return
	}
	for _, id := range s.subs {
		s.bus.Unsubscribe(id)
	}
	queue, done := s.queue, s.done
	s.bus, s.subs, s.queue, s.done = nil, nil, nil, nil
	close(queue)
	s.mu.Unlock()

	<-done
}

// Dropped 返回因队列满被丢弃的记录数
func (s *Store) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
