package event

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Type 事件类型
type Type string

const (
	TaskCreated   Type = "task:created"
	TaskStarted   Type = "task:started"
	TaskCompleted Type = "task:completed"
	TaskRetry     Type = "task:retry"
	TaskFailed    Type = "task:failed"
	AgentStatus   Type = "agent:status"

	PipelineStarted   Type = "pipeline:started"
	PipelineStage     Type = "pipeline:stage"
	PipelineCompleted Type = "pipeline:completed"
	PipelineFailed    Type = "pipeline:failed"

	// All 订阅全部事件类型
	All Type = "*"
)

// Event 一次状态变化通知。Payload 为发布时刻的快照。
type Event struct {
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(t Type, payload any) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now()}
}

// Handler 事件处理器
type Handler func(Event)

// Publisher is the narrow side of the bus handed to producers.
type Publisher interface {
	Publish(e Event)
}

// Bus 同步事件总线。
// Publish 在调用方 goroutine 中依次调用当前订阅者；订阅者 panic 会被恢复并记录，
// 不影响其他订阅者和发布方。
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type]map[string]Handler
	order    map[Type][]string
	seq      atomic.Int64 // 订阅 ID 序号，总线内唯一
	logger   *zap.Logger
}

// NewBus 创建新的事件总线
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Type]map[string]Handler),
		order:    make(map[Type][]string),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe 订阅事件，返回订阅 ID
func (b *Bus) Subscribe(t Type, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[t] == nil {
		b.handlers[t] = make(map[string]Handler)
	}

	id := fmt.Sprintf("%s-%d", t, b.seq.Add(1))
	b.handlers[t][id] = handler
	b.order[t] = append(b.order[t], id)
	return id
}

// Unsubscribe 取消订阅。未知 ID 静默忽略。
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; !ok {
			continue
		}
		delete(handlers, subscriptionID)
		ids := b.order[t]
		for i, id := range ids {
			if id == subscriptionID {
				b.order[t] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
		if len(handlers) == 0 {
			delete(b.handlers, t)
			delete(b.order, t)
		}
		return
	}
}

// Publish 发布事件。订阅者列表在锁内拷贝，调用在锁外进行，
// 因此处理器内可以安全地再次 Subscribe/Unsubscribe/Publish。
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for _, h := range b.snapshot(e.Type) {
		b.deliver(e, h)
	}
}

// SubscriberCount returns the number of handlers registered for t (excluding wildcard).
func (b *Bus) SubscriberCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

func (b *Bus) snapshot(t Type) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Handler, 0, len(b.order[t])+len(b.order[All]))
	for _, id := range b.order[t] {
		out = append(out, b.handlers[t][id])
	}
	if t != All {
		for _, id := range b.order[All] {
			out = append(out, b.handlers[All][id])
		}
	}
	return out
}

func (b *Bus) deliver(e Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", string(e.Type)),
				zap.Any("recover", r))
		}
	}()
	h(e)
}
