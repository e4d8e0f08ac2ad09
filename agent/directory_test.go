package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func newTestDirectory(t *testing.T) (*Directory, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewDirectory(DefaultSpecs(), rec, zap.NewNop()), rec
}

func TestNewDirectory_DefaultSpecs(t *testing.T) {
	d, _ := newTestDirectory(t)

	agents := d.List()
	require.Len(t, agents, 7)
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
		assert.Equal(t, StatusIdle, a.Status)
		assert.Equal(t, 100.0, a.Performance.SuccessRate)
		assert.Zero(t, a.Performance.TasksCompleted)
	}
	assert.Equal(t, []string{"openai", "anthropic", "google", "stability", "meta", "cohere", "coordinator"}, ids)

	coord, err := d.Get("coordinator")
	require.NoError(t, err)
	assert.Equal(t, TypeOrchestrator, coord.Type)
	assert.True(t, coord.HasCapability(CapabilityTaskRouting))
}

func TestNewDirectory_SkipsDuplicates(t *testing.T) {
	d := NewDirectory([]Spec{{ID: "a"}, {ID: "a", Name: "dup"}, {ID: ""}}, nil, nil, WithDefaultAgent("a"))
	require.Len(t, d.List(), 1)
	a, err := d.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, TypeProvider, a.Type)
	assert.Equal(t, "a", d.DefaultID())
}

func TestSelectBest(t *testing.T) {
	d, _ := newTestDirectory(t)

	// 成功率相同按注册顺序
	assert.Equal(t, "openai", d.SelectBest(llm.CapabilityText).ID)
	assert.Equal(t, "openai", d.SelectBest(llm.CapabilityImage).ID)
	assert.Equal(t, "anthropic", d.SelectBest(llm.CapabilityAnalysis).ID)
	assert.Equal(t, "cohere", d.SelectBest(llm.CapabilityEmbeddings).ID)

	// 成功率降序
	require.NoError(t, d.RecordOutcome("openai", time.Second, false))
	assert.Equal(t, "stability", d.SelectBest(llm.CapabilityImage).ID)
	assert.Equal(t, "anthropic", d.SelectBest(llm.CapabilityText).ID)

	// 只考虑 idle
	require.NoError(t, d.MarkBusy("stability", "task-1"))
	assert.Equal(t, "openai", d.SelectBest(llm.CapabilityImage).ID)
}

func TestSelectBest_FallsBackToDefault(t *testing.T) {
	d, _ := newTestDirectory(t)

	got := d.SelectBest(llm.CapabilityAudio)
	assert.Equal(t, "openai", got.ID)

	// 默认 Agent busy 时也返回它
	require.NoError(t, d.MarkBusy("stability", "t1"))
	require.NoError(t, d.MarkBusy("openai", "t2"))
	got = d.SelectBest(llm.CapabilityImage)
	assert.Equal(t, "openai", got.ID)
	assert.Equal(t, StatusBusy, got.Status)
}

func TestSelectBest_UnregisteredDefault(t *testing.T) {
	d := NewDirectory(nil, nil, nil)
	got := d.SelectBest(llm.CapabilityText)
	assert.Equal(t, DefaultAgentID, got.ID)
	assert.False(t, d.Has(DefaultAgentID))
}

func TestSelectBestFunc_OnlyUsableAgents(t *testing.T) {
	d, _ := newTestDirectory(t)
	onlyGoogle := func(id string) bool { return id == "google" }

	got, ok := d.SelectBestFunc(llm.CapabilityText, onlyGoogle)
	require.True(t, ok)
	assert.Equal(t, "google", got.ID)

	// 失败后成功率降为 0，但仍是唯一可用的候选
	require.NoError(t, d.RecordOutcome("google", time.Millisecond, false))
	got, ok = d.SelectBestFunc(llm.CapabilityText, onlyGoogle)
	require.True(t, ok)
	assert.Equal(t, "google", got.ID)

	// google 没有 code 能力，默认 Agent 不可用时没有结果
	_, ok = d.SelectBestFunc(llm.CapabilityCode, onlyGoogle)
	assert.False(t, ok)

	// 默认 Agent 可用时作为回退
	got, ok = d.SelectBestFunc(llm.CapabilityAudio, func(id string) bool { return id == "openai" })
	require.True(t, ok)
	assert.Equal(t, "openai", got.ID)

	got, ok = d.SelectBestFunc(llm.CapabilityAnalysis, nil)
	require.True(t, ok)
	assert.Equal(t, "anthropic", got.ID)
}

func TestMarkBusyIdle_EmitsEvents(t *testing.T) {
	d, rec := newTestDirectory(t)

	require.NoError(t, d.MarkBusy("google", "task-42"))
	a, err := d.Get("google")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, a.Status)
	assert.Equal(t, "task-42", a.CurrentTask)

	require.NoError(t, d.MarkIdle("google"))
	a, _ = d.Get("google")
	assert.Equal(t, StatusIdle, a.Status)
	assert.Empty(t, a.CurrentTask)

	require.Len(t, rec.events, 2)
	for _, e := range rec.events {
		assert.Equal(t, event.AgentStatus, e.Type)
	}
	first := rec.events[0].Payload.(Agent)
	assert.Equal(t, StatusBusy, first.Status)
	assert.Equal(t, "task-42", first.CurrentTask)
}

func TestUnknownAgent(t *testing.T) {
	d, rec := newTestDirectory(t)

	for _, err := range []error{
		d.MarkBusy("nope", "t"),
		d.MarkIdle("nope"),
		d.SetError("nope", true),
		d.RecordOutcome("nope", time.Second, true),
	} {
		assert.True(t, types.IsErrorCode(err, types.ErrUnknownAgent))
	}
	_, err := d.Get("nope")
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownAgent))
	assert.Empty(t, rec.events)
}

func TestSetError(t *testing.T) {
	d, _ := newTestDirectory(t)

	require.NoError(t, d.MarkBusy("anthropic", "t1"))
	require.NoError(t, d.SetError("anthropic", true))
	assert.Equal(t, "google", d.SelectBest(llm.CapabilityAnalysis).ID)

	// 释放任务不清除 error
	require.NoError(t, d.MarkIdle("anthropic"))
	a, _ := d.Get("anthropic")
	assert.Equal(t, StatusError, a.Status)
	assert.Empty(t, a.CurrentTask)

	require.NoError(t, d.SetError("anthropic", false))
	a, _ = d.Get("anthropic")
	assert.Equal(t, StatusIdle, a.Status)

	require.NoError(t, d.MarkBusy("google", "t2"))
	require.NoError(t, d.SetError("google", true))
	require.NoError(t, d.SetError("google", false))
	g, _ := d.Get("google")
	assert.Equal(t, StatusBusy, g.Status, "recovering agent with a task stays busy")
}

func TestRecordOutcome(t *testing.T) {
	d, _ := newTestDirectory(t)

	require.NoError(t, d.RecordOutcome("meta", 100*time.Millisecond, true))
	require.NoError(t, d.RecordOutcome("meta", 300*time.Millisecond, true))
	a, _ := d.Get("meta")
	assert.Equal(t, 2, a.Performance.TasksCompleted)
	assert.InDelta(t, 200.0, a.Performance.AvgResponseMs, 1e-9)
	assert.Equal(t, 100.0, a.Performance.SuccessRate)

	// 失败：rate = 100·2/3
	require.NoError(t, d.RecordOutcome("meta", 200*time.Millisecond, false))
	a, _ = d.Get("meta")
	assert.InDelta(t, 200.0/3.0, a.Performance.SuccessRate, 1e-9)
	assert.Equal(t, 3, a.Performance.TasksCompleted)

	// 成功不回升
	require.NoError(t, d.RecordOutcome("meta", 200*time.Millisecond, true))
	b, _ := d.Get("meta")
	assert.Equal(t, a.Performance.SuccessRate, b.Performance.SuccessRate)
}

func TestRecordOutcome_FirstFailureZeroesRate(t *testing.T) {
	d, _ := newTestDirectory(t)
	require.NoError(t, d.RecordOutcome("cohere", time.Second, false))
	a, _ := d.Get("cohere")
	assert.Zero(t, a.Performance.SuccessRate)
	assert.InDelta(t, 1000.0, a.Performance.AvgResponseMs, 1e-9)
}

func TestStats(t *testing.T) {
	d := NewDirectory([]Spec{{ID: "openai"}, {ID: "anthropic"}}, nil, nil)
	require.NoError(t, d.MarkBusy("openai", "t"))
	require.NoError(t, d.RecordOutcome("anthropic", 400*time.Millisecond, false))

	s := d.Stats()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Busy)
	assert.Equal(t, 1, s.Idle)
	assert.InDelta(t, 200.0, s.AvgResponseMs, 1e-9)
	assert.InDelta(t, 50.0, s.AvgSuccessRate, 1e-9)

	assert.Equal(t, Stats{}, NewDirectory(nil, nil, nil).Stats())
}

func TestList_ReturnsSnapshots(t *testing.T) {
	d, _ := newTestDirectory(t)
	list := d.List()
	list[0].Capabilities[0] = "mutated"
	list[0].Status = StatusError

	a, _ := d.Get(list[0].ID)
	assert.Equal(t, llm.CapabilityText, a.Capabilities[0])
	assert.Equal(t, StatusIdle, a.Status)
}

func TestDirectory_ConcurrentAccess(t *testing.T) {
	d, _ := newTestDirectory(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := d.SelectBest(llm.CapabilityText).ID
			_ = d.MarkBusy(id, "t")
			_ = d.RecordOutcome(id, time.Millisecond, i%2 == 0)
			_ = d.MarkIdle(id)
			_ = d.Stats()
		}(i)
	}
	wg.Wait()

	total := 0
	for _, a := range d.List() {
		total += a.Performance.TasksCompleted
		assert.Equal(t, StatusIdle, a.Status)
	}
	assert.Equal(t, 50, total)
}
