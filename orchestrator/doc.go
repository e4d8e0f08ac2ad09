// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package orchestrator 提供任务调度与编排：优先级队列调度器、多 Agent 扇出聚合、
规划-执行-验证自主循环，以及把它们与 Agent 目录、Provider 路由、流水线引擎
组装在一起的 [Orchestrator] 门面。

# 任务模型

每个 [Task] 由一种请求载荷创建，载荷类型决定任务类型：

  - [SimpleRequest]：单次 provider 调用，按能力选择 Agent
  - [PipelineRequest]：执行已注册的流水线
  - [FanOutRequest]：多个 Agent 并发回答后由合成 provider 汇总
  - [AutonomousRequest]：自主循环，最多 MaxSteps 步

状态流转为 pending → processing → completed | failed；失败且未超过重试上限时
任务回到 pending 并重新排队，排在同优先级任务之后。取消是终态，不再重试。

# 调度

[Scheduler] 以固定节拍（默认 100ms）每次取出一个最高优先级任务，
同优先级按提交顺序，交给独立 goroutine 执行后立即返回，不等待结果。
状态变化以 task:created / task:started / task:completed / task:retry / task:failed
事件发布到 [event.Publisher]。

# 扇出与自主循环

[Aggregator.FanOut] 占用全部目标 Agent，并发调用，等待全部结束后释放；
单个分支失败不影响其他分支，全部失败时返回 ALL_AGENTS_FAILED。

[AutonomousRunner.Run] 每步依次调用规划者、执行者、验证者，
验证者回复包含 "yes"（不区分大小写）时结束。

# 使用示例

	router := llm.NewRouter(registry, logger)
	o, err := orchestrator.New(orchestrator.DefaultConfig(), router, logger)
	if err != nil {
		return err
	}
	if err := o.Start(ctx); err != nil {
		return err
	}
	defer o.Shutdown(context.Background())

	id, err := o.Submit(orchestrator.SimpleRequest{Prompt: "hello"}, orchestrator.DefaultPriority)
*/
package orchestrator
