package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/agent"
	"github.com/BaSui01/taskflow/types"
)

func TestAgentHandler_List(t *testing.T) {
	o := newTestOrchestrator(t)
	mux := newTestMux(o)

	_, env := do(t, mux, http.MethodGet, "/api/v1/agents", "")
	all := dataAs[[]agent.Agent](t, env)
	assert.Len(t, all, len(agent.DefaultSpecs()))

	_, env = do(t, mux, http.MethodGet, "/api/v1/agents?capability=image", "")
	var ids []string
	for _, a := range dataAs[[]agent.Agent](t, env) {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"openai", "stability"}, ids)

	require.NoError(t, o.Directory().MarkBusy("anthropic", "t-1"))
	_, env = do(t, mux, http.MethodGet, "/api/v1/agents?status=busy", "")
	busy := dataAs[[]agent.Agent](t, env)
	require.Len(t, busy, 1)
	assert.Equal(t, "t-1", busy[0].CurrentTask)
}

func TestAgentHandler_Get(t *testing.T) {
	mux := newTestMux(newTestOrchestrator(t))

	w, env := do(t, mux, http.MethodGet, "/api/v1/agents/coordinator", "")
	require.Equal(t, http.StatusOK, w.Code)
	a := dataAs[agent.Agent](t, env)
	assert.Equal(t, agent.TypeOrchestrator, a.Type)
	assert.Equal(t, agent.StatusIdle, a.Status)

	w, env = do(t, mux, http.MethodGet, "/api/v1/agents/hal", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrUnknownAgent), env.Error.Code)
}
