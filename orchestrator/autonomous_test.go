package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/llm"
)

// roleExecutor 按 provider 回放脚本，记录所有请求
type roleExecutor struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req *llm.Request, n int) (string, error)
}

func (e *roleExecutor) Execute(_ context.Context, req *llm.Request) (*llm.Response, error) {
	e.mu.Lock()
	e.requests = append(e.requests, *req)
	n := len(e.requests)
	e.mu.Unlock()

	content, err := e.reply(req, n)
	if err != nil {
		return nil, err
	}
	return &llm.Response{ID: req.ID, Provider: req.Provider, Content: content}, nil
}

func (e *roleExecutor) byProvider(name string) []llm.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []llm.Request
	for _, r := range e.requests {
		if r.Provider == name {
			out = append(out, r)
		}
	}
	return out
}

// 规划与验证都走 anthropic，按提示词区分
func scripted(verdicts ...string) *roleExecutor {
	var plans, execs, checks int
	return &roleExecutor{reply: func(req *llm.Request, _ int) (string, error) {
		switch {
		case req.Provider == "openai":
			execs++
			return fmt.Sprintf("result %d", execs), nil
		case strings.HasPrefix(req.Prompt, "Given the goal"):
			plans++
			return fmt.Sprintf("plan %d", plans), nil
		default:
			checks++
			if checks <= len(verdicts) {
				return verdicts[checks-1], nil
			}
			return "NO, keep going", nil
		}
	}}
}

func TestAutonomousRunner_StopsOnYes(t *testing.T) {
	exec := scripted("NO, not yet", "no", "Yes - the goal is met.")
	r := NewAutonomousRunner(exec, Roles{}, nil)

	res, err := r.Run(context.Background(), "write a haiku", []string{"five syllables"}, 10)
	require.NoError(t, err)

	assert.Equal(t, "write a haiku", res.Goal)
	assert.True(t, res.Completed)
	assert.True(t, res.GoalAchieved)
	assert.Equal(t, "Yes - the goal is met.", res.Verdict)
	require.Len(t, res.Steps, 3)
	for i, s := range res.Steps {
		assert.Equal(t, i+1, s.Step)
		assert.Equal(t, fmt.Sprintf("plan %d", i+1), s.Plan)
		assert.Equal(t, fmt.Sprintf("result %d", i+1), s.Execution)
		assert.False(t, s.Timestamp.IsZero())
	}
	assert.False(t, res.Timestamp.IsZero())

	// 执行者收到的提示词就是计划
	execs := exec.byProvider("openai")
	require.Len(t, execs, 3)
	assert.Equal(t, "plan 2", execs[1].Prompt)

	anthropic := exec.byProvider("anthropic")
	require.Len(t, anthropic, 6)
	assert.Equal(t,
		`Given the goal: "write a haiku" and current context: "write a haiku", what is the next step? Constraints: ["five syllables"]`,
		anthropic[0].Prompt)
	assert.Contains(t, anthropic[2].Prompt, `current context: "result 1"`, "executor output becomes the context")

	verify := anthropic[1].Prompt
	assert.True(t, strings.HasPrefix(verify, `Has the following goal been achieved? Goal: "write a haiku". Current state: [`))
	assert.Contains(t, verify, `"plan":"plan 1"`)
	assert.True(t, strings.HasSuffix(verify, "Answer with YES or NO and explain."))
}

func TestAutonomousRunner_StepsExhausted(t *testing.T) {
	exec := scripted()
	r := NewAutonomousRunner(exec, Roles{}, nil)

	res, err := r.Run(context.Background(), "goal", nil, 2)
	require.NoError(t, err)
	assert.Len(t, res.Steps, 2)
	assert.True(t, res.Completed, "the loop finished normally")
	assert.False(t, res.GoalAchieved)

	plans := exec.byProvider("anthropic")
	assert.True(t, strings.HasSuffix(plans[0].Prompt, "Constraints: []"))
}

func TestAutonomousRunner_DefaultMaxSteps(t *testing.T) {
	r := NewAutonomousRunner(scripted(), Roles{}, nil)
	res, err := r.Run(context.Background(), "goal", nil, 0)
	require.NoError(t, err)
	assert.Len(t, res.Steps, DefaultMaxSteps)
}

func TestAutonomousRunner_CustomRoles(t *testing.T) {
	exec := &roleExecutor{reply: func(req *llm.Request, _ int) (string, error) {
		return "yes", nil
	}}
	r := NewAutonomousRunner(exec, Roles{Planner: "google", Verifier: "cohere"}, nil)

	_, err := r.Run(context.Background(), "goal", nil, 3)
	require.NoError(t, err)
	assert.Len(t, exec.byProvider("google"), 1)
	assert.Len(t, exec.byProvider("openai"), 1)
	assert.Len(t, exec.byProvider("cohere"), 1)
}

func TestAutonomousRunner_CallFailureAborts(t *testing.T) {
	boom := errors.New("executor down")
	exec := &roleExecutor{reply: func(req *llm.Request, _ int) (string, error) {
		if req.Provider == "openai" {
			return "", boom
		}
		return "plan", nil
	}}
	r := NewAutonomousRunner(exec, Roles{}, nil)

	res, err := r.Run(context.Background(), "goal", nil, 5)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "step 1 execute")
}

func TestAutonomousRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := scripted()
	_, err := NewAutonomousRunner(exec, Roles{}, nil).Run(ctx, "goal", nil, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.byProvider("anthropic"))
}
