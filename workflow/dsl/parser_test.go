package dsl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/workflow"
)

const sampleYAML = `
version: "1"
variables:
  audience: engineers
pipelines:
  - id: summarize
    name: Summarize
    mode: sequential
    retry:
      enabled: true
      max_retries: 2
      base_delay: 250ms
    stages:
      - id: clean
        kind: transform
        transformer: trim
      - id: guard
        kind: validate
        validator: min_length
        strict: true
        args:
          min: 3
      - id: write
        kind: process
        provider: anthropic
        capability: analysis
        prompt: "Summarize for ${audience}: {input}"
        temperature: 0.2
        max_tokens: 500
  - id: fanout
    mode: parallel
    stages:
      - id: one
        kind: process
        prompt: "one {input}"
      - id: two
        kind: enhance
        provider: openai
        prompt: "two {input}"
`

func TestParser_Parse(t *testing.T) {
	pipelines, err := NewParser().Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, pipelines, 2)

	s := pipelines[0]
	assert.Equal(t, "summarize", s.ID)
	assert.Equal(t, workflow.ModeSequential, s.Mode)
	assert.Equal(t, workflow.RetryPolicy{Enabled: true, MaxRetries: 2, BaseDelay: 250 * time.Millisecond}, s.Retry)
	require.Len(t, s.Stages, 3)

	clean := s.Stages[0]
	require.NotNil(t, clean.Transform)
	out, err := clean.Transform(context.Background(), "  padded  ")
	require.NoError(t, err)
	assert.Equal(t, "padded", out)

	guard := s.Stages[1]
	require.NotNil(t, guard.Validate)
	assert.True(t, guard.Validate("abcd"))
	assert.False(t, guard.Validate("ab"))
	assert.True(t, guard.Strict)
	assert.False(t, clean.Strict)

	write := s.Stages[2]
	assert.Equal(t, "Summarize for engineers: {input}", write.Prompt)
	assert.Equal(t, llm.CapabilityAnalysis, write.Capability)
	assert.Equal(t, 500, write.Parameters.MaxTokens)
	assert.InDelta(t, 0.2, write.Parameters.TemperatureOr(0), 1e-9)

	assert.Equal(t, workflow.ModeParallel, pipelines[1].Mode)
	assert.False(t, pipelines[1].Retry.Enabled)
}

func TestParser_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no pipelines", `version: "1"`, "at least one entry"},
		{"bad version", "version: \"9\"\npipelines: [{id: a, stages: [{id: s, kind: process, prompt: p}]}]", "unsupported version"},
		{"bad mode", "pipelines: [{id: a, mode: zigzag, stages: [{id: s, kind: process, prompt: p}]}]", "invalid mode"},
		{"bad kind", "pipelines: [{id: a, stages: [{id: s, kind: dance, prompt: p}]}]", "invalid kind"},
		{"unknown transformer", "pipelines: [{id: a, stages: [{id: s, kind: transform, transformer: nope}]}]", "unknown transformer"},
		{"validator on wrong kind", "pipelines: [{id: a, stages: [{id: s, kind: process, validator: non_empty}]}]", "only valid on validate"},
		{"strict on wrong kind", "pipelines: [{id: a, stages: [{id: s, kind: process, prompt: p, strict: true}]}]", "strict is only valid"},
		{"missing prompt", "pipelines: [{id: a, stages: [{id: s, kind: process}]}]", "prompt is required"},
		{"duplicate pipeline", "pipelines: [{id: a, stages: [{id: s, kind: aggregate}]}, {id: a, stages: [{id: s, kind: aggregate}]}]", "duplicate pipeline id"},
		{"bad delay", "pipelines: [{id: a, retry: {enabled: true, base_delay: soon}, stages: [{id: s, kind: aggregate}]}]", "base_delay"},
		{"bad capability", "pipelines: [{id: a, stages: [{id: s, kind: process, prompt: p, capability: smell}]}]", "invalid capability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParser_BadArgs(t *testing.T) {
	_, err := NewParser().Parse([]byte("pipelines: [{id: a, stages: [{id: s, kind: validate, validator: max_length}]}]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing arg "max"`)

	_, err = NewParser().Parse([]byte("pipelines: [{id: a, stages: [{id: s, kind: validate, validator: matches, args: {pattern: '('}}]}]"))
	require.Error(t, err)
}

func TestParser_CustomRegistrations(t *testing.T) {
	p := NewParser()
	p.RegisterValidator("always", func(map[string]any) (workflow.ValidateFunc, error) {
		return func(any) bool { return true }, nil
	})
	assert.Contains(t, p.Validators(), "always")
	assert.Contains(t, p.Transformers(), "trim")

	pipelines, err := p.Parse([]byte("pipelines: [{id: a, stages: [{id: s, kind: validate, validator: always}]}]"))
	require.NoError(t, err)
	assert.True(t, pipelines[0].Stages[0].Validate(nil))
}

func TestBuiltins(t *testing.T) {
	p := NewParser()
	ctx := context.Background()

	transform := func(name string, args map[string]any, in any) any {
		fn, err := p.transformers[name](args)
		require.NoError(t, err)
		out, err := fn(ctx, in)
		require.NoError(t, err)
		return out
	}
	validate := func(name string, args map[string]any, in any) bool {
		fn, err := p.validators[name](args)
		require.NoError(t, err)
		return fn(in)
	}

	assert.Equal(t, "ABC", transform("uppercase", nil, "abc"))
	assert.Equal(t, "abc", transform("lowercase", nil, "ABC"))
	assert.Equal(t, `{"a":1}`, transform("json", nil, map[string]int{"a": 1}))
	assert.Equal(t, "Q: x", transform("prefix", map[string]any{"text": "Q: "}, "x"))
	assert.Equal(t, "你好", transform("truncate", map[string]any{"max": 2}, "你好世界"))

	assert.False(t, validate("non_empty", nil, "   "))
	assert.False(t, validate("non_empty", nil, nil))
	assert.True(t, validate("non_empty", nil, "x"))
	assert.True(t, validate("json", nil, `{"ok":true}`))
	assert.False(t, validate("json", nil, "{"))
	assert.True(t, validate("max_length", map[string]any{"max": 3.0}, "abc"))
	assert.True(t, validate("contains", map[string]any{"text": "func"}, "func main()"))
	assert.True(t, validate("matches", map[string]any{"pattern": `^\d+$`}, "123"))
	assert.False(t, validate("matches", map[string]any{"pattern": `^\d+$`}, "12a"))
}

func TestParser_LoadInto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	engine := workflow.NewEngine(nil, nil, nil)
	n, err := NewParser().LoadInto(engine, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := engine.Get("summarize")
	assert.True(t, ok)

	_, err = NewParser().LoadInto(engine, path)
	require.Error(t, err, "second load collides with registered ids")

	_, err = NewParser().ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
