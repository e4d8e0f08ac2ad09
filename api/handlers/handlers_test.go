package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/orchestrator"
	"github.com/BaSui01/taskflow/testutil/mocks"
)

// envelope 解码 Response 并保留 data 的原始 JSON
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorInfo      `json:"error"`
	RequestID string          `json:"request_id"`
}

func newTestOrchestrator(t *testing.T, providers ...*mocks.MockProvider) *orchestrator.Orchestrator {
	t.Helper()
	router := llm.NewRouter(mocks.NewRegistry(providers...), zap.NewNop())
	o, err := orchestrator.New(orchestrator.Config{TickInterval: 2 * time.Millisecond}, router, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

// newTestMux 用与服务端相同的路由模式挂载 handler，使 PathValue 生效
func newTestMux(o *orchestrator.Orchestrator) *http.ServeMux {
	mux := http.NewServeMux()

	tasks := NewTaskHandler(o, nil)
	mux.HandleFunc("POST /api/v1/tasks", tasks.HandleSubmit)
	mux.HandleFunc("GET /api/v1/tasks", tasks.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", tasks.HandleGet)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", tasks.HandleCancel)

	agents := NewAgentHandler(o, nil)
	mux.HandleFunc("GET /api/v1/agents", agents.HandleList)
	mux.HandleFunc("GET /api/v1/agents/{id}", agents.HandleGet)

	stats := NewStatsHandler(o, o.Router(), nil)
	mux.HandleFunc("GET /api/v1/stats", stats.HandleStats)

	pipelines := NewPipelineHandler(o, nil)
	mux.HandleFunc("GET /api/v1/pipelines", pipelines.HandleList)
	mux.HandleFunc("GET /api/v1/pipelines/{id}", pipelines.HandleGet)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/execute", pipelines.HandleExecute)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/cancel", pipelines.HandleCancel)

	exec := NewExecuteHandler(o, nil)
	mux.HandleFunc("POST /api/v1/fanout", exec.HandleFanOut)
	mux.HandleFunc("POST /api/v1/autonomous", exec.HandleAutonomous)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	r := httptest.NewRequest(method, path, reader)
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func dataAs[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}
