package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/providers"
	"github.com/BaSui01/taskflow/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(providers.ClaudeConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "ak-test", BaseURL: srv.URL + "/"},
	}, zap.NewNop())
}

func TestProvider_Call(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-opus-20240229",
			"content": [{"type": "text", "text": "Aggregated "}, {"type": "text", "text": "answer"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`))
	})

	resp, err := p.Call(context.Background(), &llm.Request{Prompt: "synthesize", Capability: llm.CapabilityAnalysis})
	require.NoError(t, err)
	assert.Equal(t, "Aggregated answer", resp.Content)
	assert.Equal(t, providers.DefaultClaudeModel, resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	assert.Equal(t, providers.DefaultClaudeModel, body["model"])
	assert.EqualValues(t, llm.DefaultMaxTokens, body["max_tokens"])
}

func TestProvider_ErrorMapping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	})
	_, err := p.Call(context.Background(), &llm.Request{Prompt: "hi"})
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrServiceUnavailable, e.Code)
	assert.True(t, e.Retryable)
	assert.Equal(t, "anthropic", e.Provider)
}

func TestBuildMessages(t *testing.T) {
	system, msgs := buildMessages(&llm.Request{
		Prompt: "now",
		Context: []types.Message{
			types.NewAssistantMessage("dangling"),
			types.NewSystemMessage("be brief"),
			types.NewUserMessage("a"),
			types.NewUserMessage("b"),
			types.NewAssistantMessage("c"),
		},
	})
	assert.Equal(t, llm.DefaultSystemPrompt+"\n\nbe brief", system)
	// dangling assistant dropped; a+b merged; c; now
	require.Len(t, msgs, 3)
}
