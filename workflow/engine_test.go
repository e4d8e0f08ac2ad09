package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/event"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// scriptedExecutor 按 provider 名返回脚本化结果，并记录所有请求
type scriptedExecutor struct {
	mu       sync.Mutex
	requests []llm.Request
	handle   func(ctx context.Context, req *llm.Request) (string, error)
}

func (s *scriptedExecutor) Execute(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()

	if s.handle == nil {
		return &llm.Response{Content: req.Provider + ":" + req.Prompt}, nil
	}
	content, err := s.handle(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content}, nil
}

func (s *scriptedExecutor) prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Prompt
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) Publish(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []event.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func threeStages(mode Mode) Pipeline {
	return Pipeline{
		ID:   "abc",
		Mode: mode,
		Stages: []Stage{
			{ID: "a", Name: "A", Kind: StageProcess, Provider: "pa", Prompt: "A({input})"},
			{ID: "b", Name: "B", Kind: StageEnhance, Provider: "pb", Prompt: "B({input})"},
			{ID: "c", Name: "C", Kind: StageProcess, Provider: "pc", Prompt: "C({input})"},
		},
	}
}

func newEngine(t *testing.T, exec llm.Executor, pipelines ...Pipeline) (*Engine, *eventLog) {
	t.Helper()
	log := &eventLog{}
	e := NewEngine(exec, log, zap.NewNop())
	for _, p := range pipelines {
		require.NoError(t, e.Register(p))
	}
	return e, log
}

func TestEngine_SequentialThreadsOutput(t *testing.T) {
	exec := &scriptedExecutor{handle: func(_ context.Context, req *llm.Request) (string, error) {
		return req.Prompt, nil
	}}
	e, log := newEngine(t, exec, threeStages(ModeSequential))

	res, err := e.Execute(context.Background(), "abc", "x", nil)
	require.NoError(t, err)

	assert.Equal(t, "C(B(A(x)))", res.FinalOutput)
	require.Len(t, res.Stages, 3)
	assert.Equal(t, "A", res.Stages[0].Stage)
	assert.Equal(t, "A(x)", res.Stages[0].Output)
	assert.Equal(t, "B(A(x))", res.Stages[1].Output)
	assert.Equal(t, 1, res.Stages[2].Attempts)
	assert.Equal(t, ModeSequential, res.Mode)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, []event.Type{
		event.PipelineStarted, event.PipelineStage, event.PipelineStage, event.PipelineStage, event.PipelineCompleted,
	}, log.types())
	assert.Equal(t, 0, e.Running("abc"))
}

func TestEngine_SequentialFailureDiscardsTrace(t *testing.T) {
	boom := types.NewProviderError("pb", "bad gateway", 502)
	exec := &scriptedExecutor{handle: func(_ context.Context, req *llm.Request) (string, error) {
		if req.Provider == "pb" {
			return "", boom
		}
		return "ok", nil
	}}
	e, log := newEngine(t, exec, threeStages(ModeSequential))

	res, err := e.Execute(context.Background(), "abc", "x", nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	assert.True(t, types.IsProviderError(err))
	assert.Contains(t, err.Error(), `stage "b"`)
	assert.Len(t, exec.prompts(), 2, "stage C never runs")
	assert.Equal(t, event.PipelineFailed, log.types()[len(log.types())-1])
}

func TestEngine_SequentialRetryRecovers(t *testing.T) {
	var calls int32
	exec := &scriptedExecutor{handle: func(_ context.Context, req *llm.Request) (string, error) {
		if req.Provider == "pb" && atomic.AddInt32(&calls, 1) <= 2 {
			return "", types.NewProviderError("pb", "flaky", 503)
		}
		return req.Prompt, nil
	}}
	p := threeStages(ModeSequential)
	p.Retry = RetryPolicy{Enabled: true, MaxRetries: 3, BaseDelay: time.Millisecond}
	e, _ := newEngine(t, exec, p)

	res, err := e.Execute(context.Background(), "abc", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "C(B(A(x)))", res.FinalOutput)
	assert.Equal(t, 3, res.Stages[1].Attempts)
}

func TestEngine_SequentialRetryExhausted(t *testing.T) {
	exec := &scriptedExecutor{handle: func(_ context.Context, req *llm.Request) (string, error) {
		if req.Provider == "pb" {
			return "", types.NewProviderError("pb", "down", 503)
		}
		return "ok", nil
	}}
	p := threeStages(ModeSequential)
	p.Retry = RetryPolicy{Enabled: true, MaxRetries: 2, BaseDelay: time.Millisecond}
	e, _ := newEngine(t, exec, p)

	_, err := e.Execute(context.Background(), "abc", "x", nil)
	require.Error(t, err)
	assert.True(t, types.IsProviderError(err))

	pbCalls := 0
	for _, pr := range exec.prompts() {
		if strings.HasPrefix(pr, "B(") {
			pbCalls++
		}
	}
	assert.Equal(t, 3, pbCalls, "initial attempt plus two retries")
}

func TestEngine_ParallelKeepsEveryBranch(t *testing.T) {
	exec := &scriptedExecutor{handle: func(_ context.Context, req *llm.Request) (string, error) {
		if req.Provider == "pb" {
			return "", errors.New("branch b exploded")
		}
		return req.Prompt, nil
	}}
	e, log := newEngine(t, exec, threeStages(ModeParallel))

	res, err := e.Execute(context.Background(), "abc", "x", nil)
	require.NoError(t, err)
	require.Len(t, res.Stages, 3)

	assert.Equal(t, "A(x)", res.Stages[0].Output)
	assert.False(t, res.Stages[0].Failed())
	assert.True(t, res.Stages[1].Failed())
	assert.Contains(t, res.Stages[1].Error, "branch b exploded")
	assert.Nil(t, res.Stages[1].Output)
	assert.Equal(t, "C(x)", res.Stages[2].Output, "every branch receives the original input")
	assert.Nil(t, res.FinalOutput)
	assert.Equal(t, event.PipelineCompleted, log.types()[len(log.types())-1])
}

func TestEngine_ParallelBranchPanicIsRecorded(t *testing.T) {
	exec := &scriptedExecutor{handle: func(_ context.Context, req *llm.Request) (string, error) {
		return req.Prompt, nil
	}}
	e, _ := newEngine(t, exec, Pipeline{ID: "boom", Mode: ModeParallel, Stages: []Stage{
		{ID: "bad", Kind: StageTransform, Transform: func(context.Context, any) (any, error) {
			panic("transform blew up")
		}},
		{ID: "good", Kind: StageProcess, Prompt: "ok {input}"},
	}})

	res, err := e.Execute(context.Background(), "boom", "x", nil)
	require.NoError(t, err)
	require.Len(t, res.Stages, 2)
	assert.True(t, res.Stages[0].Failed())
	assert.Contains(t, res.Stages[0].Error, "transform blew up")
	assert.Equal(t, 1, res.Stages[0].Attempts)
	assert.Equal(t, "ok x", res.Stages[1].Output)
}

func TestEngine_UnknownPipeline(t *testing.T) {
	e, _ := newEngine(t, &scriptedExecutor{})
	_, err := e.Execute(context.Background(), "missing", "x", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownPipeline))
}

func TestEngine_RegisterValidation(t *testing.T) {
	e, _ := newEngine(t, &scriptedExecutor{}, threeStages(ModeSequential))

	err := e.Register(threeStages(ModeSequential))
	assert.True(t, types.IsErrorCode(err, types.ErrDuplicatePipeline))

	tests := []struct {
		name string
		p    Pipeline
	}{
		{"no id", Pipeline{Stages: []Stage{{ID: "a", Kind: StageProcess}}}},
		{"no stages", Pipeline{ID: "x"}},
		{"bad mode", Pipeline{ID: "x", Mode: "diagonal", Stages: []Stage{{ID: "a", Kind: StageProcess}}}},
		{"bad kind", Pipeline{ID: "x", Stages: []Stage{{ID: "a", Kind: "summon"}}}},
		{"dup stage", Pipeline{ID: "x", Stages: []Stage{{ID: "a", Kind: StageProcess}, {ID: "a", Kind: StageProcess}}}},
		{"bad capability", Pipeline{ID: "x", Stages: []Stage{{ID: "a", Kind: StageProcess, Capability: "smell"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Register(tt.p)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
		})
	}
}

func TestEngine_StageKinds(t *testing.T) {
	exec := &scriptedExecutor{handle: func(_ context.Context, req *llm.Request) (string, error) {
		return req.Prompt, nil
	}}

	t.Run("transform uses local function", func(t *testing.T) {
		e, _ := newEngine(t, exec, Pipeline{ID: "t", Stages: []Stage{{
			ID: "up", Kind: StageTransform,
			Transform: func(_ context.Context, in any) (any, error) { return strings.ToUpper(in.(string)), nil },
		}}})
		res, err := e.Execute(context.Background(), "t", "abc", nil)
		require.NoError(t, err)
		assert.Equal(t, "ABC", res.FinalOutput)
	})

	t.Run("transform falls back to provider", func(t *testing.T) {
		e, _ := newEngine(t, exec, Pipeline{ID: "t", Stages: []Stage{{ID: "fb", Kind: StageTransform, Prompt: "fix {input}"}}})
		res, err := e.Execute(context.Background(), "t", "abc", nil)
		require.NoError(t, err)
		assert.Equal(t, "fix abc", res.FinalOutput)
	})

	t.Run("validate passes input through", func(t *testing.T) {
		e, _ := newEngine(t, exec, Pipeline{ID: "v", Stages: []Stage{{
			ID: "len", Kind: StageValidate, Validate: func(in any) bool { return len(in.(string)) > 2 },
		}}})
		res, err := e.Execute(context.Background(), "v", "abcd", nil)
		require.NoError(t, err)
		assert.Equal(t, "abcd", res.FinalOutput)
	})

	t.Run("validate rejection yields nil and continues", func(t *testing.T) {
		exec := &scriptedExecutor{}
		e, _ := newEngine(t, exec, Pipeline{ID: "v", Stages: []Stage{
			{ID: "check", Kind: StageValidate, Validate: func(any) bool { return false }},
			{ID: "next", Kind: StageProcess, Provider: "pn", Prompt: "next({input})"},
		}})
		res, err := e.Execute(context.Background(), "v", "draft", nil)
		require.NoError(t, err)
		require.Len(t, res.Stages, 2)
		assert.Nil(t, res.Stages[0].Output)
		assert.False(t, res.Stages[0].Failed())
		assert.Equal(t, []string{"next(null)"}, exec.prompts())
		assert.Equal(t, "pn:next(null)", res.FinalOutput)
	})

	t.Run("validate rejection in parallel records nil output", func(t *testing.T) {
		e, _ := newEngine(t, exec, Pipeline{ID: "v", Mode: ModeParallel, Stages: []Stage{
			{ID: "check", Kind: StageValidate, Validate: func(any) bool { return false }},
			{ID: "echo", Kind: StageProcess, Prompt: "{input}"},
		}})
		res, err := e.Execute(context.Background(), "v", "draft", nil)
		require.NoError(t, err)
		assert.False(t, res.Stages[0].Failed())
		assert.Nil(t, res.Stages[0].Output)
		assert.Equal(t, "draft", res.Stages[1].Output)
	})

	t.Run("strict validate rejection fails and is not retried", func(t *testing.T) {
		var calls int32
		e, _ := newEngine(t, exec, Pipeline{
			ID:    "v",
			Retry: RetryPolicy{Enabled: true, MaxRetries: 3, BaseDelay: time.Millisecond},
			Stages: []Stage{{ID: "len", Kind: StageValidate, Strict: true, Validate: func(in any) bool {
				atomic.AddInt32(&calls, 1)
				return false
			}}},
		})
		_, err := e.Execute(context.Background(), "v", "a", nil)
		assert.True(t, types.IsErrorCode(err, types.ErrValidationFailed))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("aggregate serialises input as JSON", func(t *testing.T) {
		e, _ := newEngine(t, exec, Pipeline{ID: "g", Stages: []Stage{{ID: "agg", Kind: StageAggregate, Prompt: "merge {input}"}}})
		res, err := e.Execute(context.Background(), "g", map[string]int{"a": 1}, nil)
		require.NoError(t, err)
		assert.Equal(t, `merge {"a":1}`, res.FinalOutput)
	})

	t.Run("process stringifies non-string input", func(t *testing.T) {
		e, _ := newEngine(t, exec, Pipeline{ID: "p", Stages: []Stage{{ID: "p", Kind: StageProcess, Prompt: "{input} and {input}"}}})
		res, err := e.Execute(context.Background(), "p", []int{1, 2}, nil)
		require.NoError(t, err)
		assert.Equal(t, "[1,2] and {input}", res.FinalOutput, "only the first placeholder is replaced")
	})
}

func TestEngine_RequestShape(t *testing.T) {
	exec := &scriptedExecutor{}
	e, _ := newEngine(t, exec, Pipeline{ID: "p", Stages: []Stage{{
		ID: "img", Kind: StageProcess, Provider: "stability", Model: "sdxl",
		Capability: llm.CapabilityImage, Prompt: "draw {input}",
	}}})
	history := []types.Message{types.NewUserMessage("earlier")}

	_, err := e.Execute(context.Background(), "p", "a cat", history)
	require.NoError(t, err)

	require.Len(t, exec.requests, 1)
	req := exec.requests[0]
	assert.Equal(t, "stability", req.Provider)
	assert.Equal(t, "sdxl", req.Model)
	assert.Equal(t, llm.CapabilityImage, req.Capability)
	assert.Equal(t, "draw a cat", req.Prompt)
	assert.Equal(t, history, req.Context)
	assert.NotEmpty(t, req.ID)
}

func TestEngine_Cancel(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	exec := &scriptedExecutor{handle: func(ctx context.Context, _ *llm.Request) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	}}
	e, _ := newEngine(t, exec, threeStages(ModeSequential))

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), "abc", "x", nil)
		errCh <- err
	}()

	<-started
	assert.Equal(t, 1, e.Running("abc"))
	assert.Equal(t, 1, e.Cancel("abc"))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, types.IsCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("cancelled pipeline did not return")
	}
	assert.Equal(t, 0, e.Cancel("abc"))
}

func TestEngine_ListAndGetReturnCopies(t *testing.T) {
	e, _ := newEngine(t, &scriptedExecutor{})
	require.NoError(t, e.RegisterDefaults())

	list := e.List()
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"content-gen", "code-gen", "analysis", "creative"}, ids)

	list[0].Stages[0].Prompt = "mutated"
	p, ok := e.Get("content-gen")
	require.True(t, ok)
	assert.Equal(t, "Generate creative ideas for: {input}", p.Stages[0].Prompt)

	creative, _ := e.Get("creative")
	assert.Equal(t, ModeParallel, creative.Mode)
	assert.Equal(t, llm.CapabilityImage, creative.Stages[1].Capability)
}

func TestRenderPrompt(t *testing.T) {
	assert.Equal(t, "raw", RenderPrompt("", "raw"))
	assert.Equal(t, "no placeholder", RenderPrompt("no placeholder", "x"))
	assert.Equal(t, "say hi twice {input}", RenderPrompt("say {input} twice {input}", "hi"))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "text", Stringify("text"))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]string{"k": "v"}))
	assert.Equal(t, "null", Stringify(nil))
}
