// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

// Package api 定义 TaskFlow HTTP API 的请求与响应结构。
//
// 所有端点位于 /api/v1 下，响应统一包装为
//
//	{"success": true, "data": ..., "timestamp": "..."}
//
// 失败时 data 为空，error 给出 code、message 与 retryable。
//
// # Endpoints
//
//	POST /api/v1/tasks                   提交任务（SubmitTaskRequest）
//	GET  /api/v1/tasks                   列出内存中的任务
//	GET  /api/v1/tasks/{id}              查询任务
//	POST /api/v1/tasks/{id}/cancel       取消任务
//	GET  /api/v1/agents                  列出 Agent
//	GET  /api/v1/agents/{id}             查询 Agent
//	GET  /api/v1/stats                   调度统计与用量
//	GET  /api/v1/pipelines               列出流水线
//	POST /api/v1/pipelines/{id}/execute  同步执行流水线
//	POST /api/v1/pipelines/{id}/cancel   取消进行中的执行
//	POST /api/v1/fanout                  同步多 Agent 调用
//	POST /api/v1/autonomous              同步自治执行
//	GET  /api/v1/history                 查询任务归档（启用数据库时）
//	GET  /api/v1/history/{id}            查询单条归档
//	GET  /api/v1/events                  WebSocket 事件流
//
// # Authentication
//
// 启用认证时，请求需携带 X-API-Key 头或 Authorization: Bearer <jwt>。
package api
