// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package taskflow 把任务编排引擎的各个部分按配置组装为一个可运行的 App。

New 依次创建事件总线、Agent 目录、Prometheus 指标收集器、provider 注册表
（带限流与可选熔断）、响应缓存（本地 LRU，启用 Redis 时为两级缓存）、
Router、编排器，并加载 YAML 流水线定义。启用数据库时，终态任务会
异步归档到 task_history 表。

	cfg, err := config.NewLoader().WithConfigPath("taskflow.yaml").Load()
	app, err := taskflow.New(cfg, taskflow.WithLogger(logger))
	if err := app.Start(ctx); err != nil { ... }
	defer app.Shutdown(context.Background())

	id, err := app.Orchestrator.Submit(orchestrator.SimpleRequest{Prompt: "hello"}, 5)
*/
package taskflow
