package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
)

// Step 自主循环中的一步
type Step struct {
	Step      int       `json:"step"`
	Plan      string    `json:"plan"`
	Execution string    `json:"execution"`
	Timestamp time.Time `json:"timestamp"`
}

// AutonomousResult 自主循环的结果。Completed 表示循环正常结束，
// GoalAchieved 表示验证者确认目标达成；步数耗尽时前者为 true 后者为 false。
type AutonomousResult struct {
	Goal         string    `json:"goal"`
	Steps        []Step    `json:"steps"`
	Completed    bool      `json:"completed"`
	GoalAchieved bool      `json:"goal_achieved"`
	Verdict      string    `json:"verdict,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Roles 三个角色各自使用的 provider
type Roles struct {
	Planner  string `json:"planner" yaml:"planner"`
	Executor string `json:"executor" yaml:"executor"`
	Verifier string `json:"verifier" yaml:"verifier"`
}

// DefaultRoles 规划与验证用 anthropic，执行用 openai
func DefaultRoles() Roles {
	return Roles{Planner: "anthropic", Executor: "openai", Verifier: "anthropic"}
}

func (r Roles) withDefaults() Roles {
	def := DefaultRoles()
	if r.Planner == "" {
		r.Planner = def.Planner
	}
	if r.Executor == "" {
		r.Executor = def.Executor
	}
	if r.Verifier == "" {
		r.Verifier = def.Verifier
	}
	return r
}

// AutonomousRunner 规划-执行-验证循环。每一步都是同一 Executor 上的普通调用。
type AutonomousRunner struct {
	executor llm.Executor
	roles    Roles
	logger   *zap.Logger
	now      func() time.Time
}

// NewAutonomousRunner creates a runner; zero-valued roles fall back to DefaultRoles.
func NewAutonomousRunner(executor llm.Executor, roles Roles, logger *zap.Logger) *AutonomousRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutonomousRunner{
		executor: executor,
		roles:    roles.withDefaults(),
		logger:   logger.With(zap.String("component", "autonomous")),
		now:      time.Now,
	}
}

// Run 最多执行 maxSteps 步（<=0 取默认值），验证者回答 yes 时提前结束。
// 任一调用失败即返回错误，已完成的步骤丢弃。
func (r *AutonomousRunner) Run(ctx context.Context, goal string, constraints []string, maxSteps int) (*AutonomousResult, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	runID := uuid.NewString()
	constraintJSON := marshalOr(constraints, "[]")

	res := &AutonomousResult{Goal: goal, Steps: make([]Step, 0, maxSteps)}
	current := goal

	for i := 1; i <= maxSteps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		plan, err := r.call(ctx, fmt.Sprintf("%s-plan-%d", runID, i), r.roles.Planner, planPrompt(goal, current, constraintJSON))
		if err != nil {
			return nil, fmt.Errorf("step %d plan: %w", i, err)
		}
		execution, err := r.call(ctx, fmt.Sprintf("%s-exec-%d", runID, i), r.roles.Executor, plan)
		if err != nil {
			return nil, fmt.Errorf("step %d execute: %w", i, err)
		}

		res.Steps = append(res.Steps, Step{Step: i, Plan: plan, Execution: execution, Timestamp: r.now()})
		current = execution

		verdict, err := r.call(ctx, fmt.Sprintf("%s-verify-%d", runID, i), r.roles.Verifier, verifyPrompt(goal, res.Steps))
		if err != nil {
			return nil, fmt.Errorf("step %d verify: %w", i, err)
		}
		res.Verdict = verdict

		r.logger.Debug("autonomous step",
			zap.String("run_id", runID),
			zap.Int("step", i),
			zap.Int("plan_len", len(plan)))

		if strings.Contains(strings.ToLower(verdict), "yes") {
			res.GoalAchieved = true
			break
		}
	}

	res.Completed = true
	res.Timestamp = r.now()
	r.logger.Info("autonomous run finished",
		zap.String("run_id", runID),
		zap.Int("steps", len(res.Steps)),
		zap.Bool("goal_achieved", res.GoalAchieved))
	return res, nil
}

func (r *AutonomousRunner) call(ctx context.Context, id, provider, prompt string) (string, error) {
	resp, err := r.executor.Execute(ctx, &llm.Request{
		ID:       id,
		Prompt:   prompt,
		Provider: provider,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func planPrompt(goal, current, constraints string) string {
	return fmt.Sprintf("Given the goal: \"%s\" and current context: \"%s\", what is the next step? Constraints: %s",
		goal, current, constraints)
}

func verifyPrompt(goal string, steps []Step) string {
	return fmt.Sprintf("Has the following goal been achieved? Goal: \"%s\". Current state: %s. Answer with YES or NO and explain.",
		goal, marshalOr(steps, "[]"))
}

func marshalOr(v any, fallback string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return fallback
	}
	return string(b)
}
