package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/api"
	"github.com/BaSui01/taskflow/orchestrator"
	"github.com/BaSui01/taskflow/testutil/mocks"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

func TestPipelineHandler_List(t *testing.T) {
	mux := newTestMux(newTestOrchestrator(t))

	_, env := do(t, mux, http.MethodGet, "/api/v1/pipelines", "")
	infos := dataAs[[]api.PipelineInfo](t, env)

	var ids []string
	for _, p := range infos {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"content-gen", "code-gen", "analysis", "creative"}, ids)
	assert.Equal(t, "architecture", infos[1].Stages[0].ID)
}

func TestPipelineHandler_Get(t *testing.T) {
	mux := newTestMux(newTestOrchestrator(t))

	w, env := do(t, mux, http.MethodGet, "/api/v1/pipelines/code-gen", "")
	require.Equal(t, http.StatusOK, w.Code)
	info := dataAs[api.PipelineInfo](t, env)
	assert.Equal(t, workflow.ModeSequential, info.Mode)
	assert.Len(t, info.Stages, 4)

	w, env = do(t, mux, http.MethodGet, "/api/v1/pipelines/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrUnknownPipeline), env.Error.Code)
}

func TestPipelineHandler_Execute(t *testing.T) {
	openai := mocks.NewMockProvider("openai").WithResponse("a")
	anthropic := mocks.NewMockProvider("anthropic").WithResponse("yes")
	mux := newTestMux(newTestOrchestrator(t, openai, anthropic))

	w, env := do(t, mux, http.MethodPost, "/api/v1/pipelines/code-gen/execute", `{"input":"a url shortener"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := dataAs[workflow.Result](t, env)
	assert.Equal(t, "code-gen", res.PipelineID)
	assert.Len(t, res.Stages, 4)
	assert.NotEmpty(t, res.RunID)

	w, env = do(t, mux, http.MethodPost, "/api/v1/pipelines/missing/execute", `{"input":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrUnknownPipeline), env.Error.Code)

	w, _ = do(t, mux, http.MethodPost, "/api/v1/pipelines/code-gen/execute", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPipelineHandler_CancelRunning(t *testing.T) {
	blocking := mocks.NewMockProvider("anthropic").WithBlockUntilCancel()
	o := newTestOrchestrator(t, blocking, mocks.NewMockProvider("openai"))
	mux := newTestMux(o)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.ExecutePipeline(context.Background(), "code-gen", "x", nil)
		errCh <- err
	}()
	select {
	case <-blocking.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never reached the provider")
	}

	w, env := do(t, mux, http.MethodPost, "/api/v1/pipelines/code-gen/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.CancelPipelineResponse{PipelineID: "code-gen", Cancelled: 1}, dataAs[api.CancelPipelineResponse](t, env))

	select {
	case err := <-errCh:
		assert.True(t, types.IsCancelled(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
}

func TestExecuteHandler(t *testing.T) {
	openai := mocks.NewMockProvider("openai").WithResponse("did the thing")
	anthropic := mocks.NewMockProvider("anthropic").WithResponse("yes")
	mux := newTestMux(newTestOrchestrator(t, openai, anthropic))

	w, env := do(t, mux, http.MethodPost, "/api/v1/fanout", `{"prompt":"compare","agents":["openai"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fan := dataAs[orchestrator.AggregateResult](t, env)
	assert.Equal(t, "yes", fan.Content)
	assert.Equal(t, 1, fan.Succeeded)

	w, env = do(t, mux, http.MethodPost, "/api/v1/autonomous", `{"goal":"do the thing","max_steps":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	auto := dataAs[orchestrator.AutonomousResult](t, env)
	assert.True(t, auto.GoalAchieved)
	assert.Len(t, auto.Steps, 1)

	w, env = do(t, mux, http.MethodPost, "/api/v1/fanout", `{"prompt":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), env.Error.Code)
}

func TestExecuteHandler_AllAgentsFailed(t *testing.T) {
	failing := mocks.NewMockProvider("openai").WithError(types.NewProviderError("openai", "down", 500))
	mux := newTestMux(newTestOrchestrator(t, failing))

	w, env := do(t, mux, http.MethodPost, "/api/v1/fanout", `{"prompt":"q","agents":["openai"]}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(types.ErrAllAgentsFailed), env.Error.Code)
}
