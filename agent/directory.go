package agent

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// Stats 目录级聚合统计
type Stats struct {
	Total          int     `json:"total"`
	Idle           int     `json:"idle"`
	Busy           int     `json:"busy"`
	Error          int     `json:"error"`
	AvgResponseMs  float64 `json:"avg_response_ms"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
}

// Directory 线程安全的 Agent 目录。
// 状态变化（busy / idle / error）在锁外发布 agent:status 事件，payload 为变化后的快照。
type Directory struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	order     []string
	defaultID string

	publisher event.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithDefaultAgent overrides the fallback agent id.
func WithDefaultAgent(id string) Option {
	return func(d *Directory) { d.defaultID = id }
}

// NewDirectory 由 specs 创建目录，重复 ID 以首次出现为准。publisher 可为 nil。
func NewDirectory(specs []Spec, publisher event.Publisher, logger *zap.Logger, opts ...Option) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{
		agents:    make(map[string]*Agent, len(specs)),
		defaultID: DefaultAgentID,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "agent_directory")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	now := d.now()
	for _, s := range specs {
		if _, dup := d.agents[s.ID]; dup || s.ID == "" {
			d.logger.Warn("skipping agent spec", zap.String("agent_id", s.ID))
			continue
		}
		name := s.Name
		if name == "" {
			name = s.ID
		}
		typ := s.Type
		if typ == "" {
			typ = TypeProvider
		}
		d.agents[s.ID] = &Agent{
			ID:           s.ID,
			Name:         name,
			Type:         typ,
			Capabilities: append([]llm.Capability(nil), s.Capabilities...),
			Status:       StatusIdle,
			Performance:  Performance{SuccessRate: 100},
			UpdatedAt:    now,
		}
		d.order = append(d.order, s.ID)
	}
	if _, ok := d.agents[d.defaultID]; !ok {
		d.logger.Warn("default agent not registered", zap.String("agent_id", d.defaultID))
	}
	return d
}

// SelectBest 选择持有能力 c 的最佳 idle Agent，没有候选时返回默认 Agent。
// 只返回快照，不修改状态；调用方需自行 MarkBusy。
func (d *Directory) SelectBest(c llm.Capability) Agent {
	a, ok := d.SelectBestFunc(c, nil)
	if !ok {
		return Agent{ID: d.defaultID, Name: d.defaultID, Type: TypeProvider, Status: StatusIdle,
			Performance: Performance{SuccessRate: 100}}
	}
	return a
}

// SelectBestFunc 与 SelectBest 相同，但只考虑 usable 返回 true 的 Agent，
// 默认 Agent 也要满足 usable 才会作为回退。usable 为 nil 时不过滤。
// 没有可用 Agent 时第二个返回值为 false。
func (d *Directory) SelectBestFunc(c llm.Capability, usable func(agentID string) bool) (Agent, bool) {
	if usable == nil {
		usable = func(string) bool { return true }
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	candidates := make([]*Agent, 0, len(d.order))
	for _, id := range d.order {
		a := d.agents[id]
		if a.Status == StatusIdle && a.HasCapability(c) && usable(id) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		if def, ok := d.agents[d.defaultID]; ok && usable(d.defaultID) {
			return def.clone(), true
		}
		return Agent{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Performance.SuccessRate > candidates[j].Performance.SuccessRate
	})
	return candidates[0].clone(), true
}

// MarkBusy 标记 Agent 正在处理 taskID。
func (d *Directory) MarkBusy(agentID, taskID string) error {
	return d.transition(agentID, func(a *Agent) {
		a.Status = StatusBusy
		a.CurrentTask = taskID
	})
}

// MarkIdle 释放 Agent。处于 error 状态的 Agent 只清除当前任务，保持 error。
func (d *Directory) MarkIdle(agentID string) error {
	return d.transition(agentID, func(a *Agent) {
		if a.Status != StatusError {
			a.Status = StatusIdle
		}
		a.CurrentTask = ""
	})
}

// SetError 设置或清除 error 状态（例如 Provider 熔断打开/恢复）。
func (d *Directory) SetError(agentID string, failing bool) error {
	return d.transition(agentID, func(a *Agent) {
		switch {
		case failing:
			a.Status = StatusError
		case a.CurrentTask != "":
			a.Status = StatusBusy
		default:
			a.Status = StatusIdle
		}
	})
}

func (d *Directory) transition(agentID string, mutate func(*Agent)) error {
	d.mu.Lock()
	a, ok := d.agents[agentID]
	if !ok {
		d.mu.Unlock()
		return types.NewUnknownAgentError(agentID)
	}
	mutate(a)
	a.UpdatedAt = d.now()
	snapshot := a.clone()
	d.mu.Unlock()

	if d.publisher != nil {
		d.publisher.Publish(event.New(event.AgentStatus, snapshot))
	}
	return nil
}

// RecordOutcome 记录一次执行结果。
//
//	avg  = (avg·n + elapsed) / (n+1)
//	rate = rate·n / (n+1)   仅失败时
//	n    = n + 1
func (d *Directory) RecordOutcome(agentID string, elapsed time.Duration, succeeded bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.agents[agentID]
	if !ok {
		return types.NewUnknownAgentError(agentID)
	}
	p := &a.Performance
	n := float64(p.TasksCompleted)
	ms := float64(elapsed) / float64(time.Millisecond)
	p.AvgResponseMs = (p.AvgResponseMs*n + ms) / (n + 1)
	if !succeeded {
		p.SuccessRate = p.SuccessRate * n / (n + 1)
	}
	p.TasksCompleted++
	a.UpdatedAt = d.now()
	return nil
}

// Get 返回 Agent 快照
func (d *Directory) Get(agentID string) (Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok {
		return Agent{}, types.NewUnknownAgentError(agentID)
	}
	return a.clone(), nil
}

// Has reports whether agentID is registered.
func (d *Directory) Has(agentID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.agents[agentID]
	return ok
}

// DefaultID returns the fallback agent id.
func (d *Directory) DefaultID() string { return d.defaultID }

// List 按注册顺序返回所有 Agent 快照
func (d *Directory) List() []Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Agent, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.agents[id].clone())
	}
	return out
}

// Stats 聚合统计，平均值覆盖全部 Agent
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{Total: len(d.order)}
	if s.Total == 0 {
		return s
	}
	var latency, rate float64
	for _, id := range d.order {
		a := d.agents[id]
		switch a.Status {
		case StatusIdle:
			s.Idle++
		case StatusBusy:
			s.Busy++
		case StatusError:
			s.Error++
		}
		latency += a.Performance.AvgResponseMs
		rate += a.Performance.SuccessRate
	}
	s.AvgResponseMs = latency / float64(s.Total)
	s.AvgSuccessRate = rate / float64(s.Total)
	return s
}
