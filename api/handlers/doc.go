// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 实现 TaskFlow HTTP API 的请求处理器。

每个 Handler 只依赖一个小接口（TaskService、AgentService、PipelineService 等），
*orchestrator.Orchestrator 同时满足这些接口。路由注册在 cmd/taskflow 中完成，
路径参数通过 Go 1.22 ServeMux 的 r.PathValue 读取。

# 核心类型

  - TaskHandler      任务提交、列表、查询、取消
  - AgentHandler     Agent 目录查询
  - StatsHandler     调度统计与 provider 用量
  - PipelineHandler  流水线列表、同步执行、取消
  - ExecuteHandler   同步 fan-out 与自治执行
  - HistoryHandler   终态任务归档查询
  - EventsHandler    WebSocket 事件流
  - HealthHandler    /health、/healthz、/ready、/version

# 响应格式

WriteSuccess / WriteError 输出统一的 Response 包装；types.Error 的错误码经
mapErrorCodeToHTTPStatus 映射为 HTTP 状态。provider 返回的上游状态码不透传。
*/
package handlers
