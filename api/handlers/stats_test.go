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
)

func TestStatsHandler(t *testing.T) {
	provider := mocks.NewMockProvider("openai").WithResponse("ok").WithTokenUsage(10, 5)
	o := newTestOrchestrator(t, provider)
	require.NoError(t, o.Start(context.Background()))
	mux := newTestMux(o)

	id, err := o.Submit(orchestrator.SimpleRequest{Prompt: "count me"}, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, _ := o.GetTask(id)
		return task.Status == orchestrator.StatusCompleted
	}, 2*time.Second, 2*time.Millisecond)

	w, env := do(t, mux, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := dataAs[api.StatsResponse](t, env)

	assert.Equal(t, 1, stats.TotalTasks)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 7, stats.TotalAgents)
	assert.Equal(t, 1, stats.Cost.RequestCount)
	assert.Equal(t, 0, stats.InFlight)
}

func TestStatsHandler_WithoutUsage(t *testing.T) {
	o := newTestOrchestrator(t)
	h := NewStatsHandler(o, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
	_, env := do(t, mux, http.MethodGet, "/api/v1/stats", "")

	stats := dataAs[api.StatsResponse](t, env)
	assert.Zero(t, stats.Cost.RequestCount)
	assert.Zero(t, stats.TotalTasks)
}
