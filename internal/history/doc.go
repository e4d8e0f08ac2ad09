// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

// Package history 把进入终态的任务归档到关系数据库。
//
// 调度器只在内存中保留最近的任务；Store 订阅 task:completed 与 task:failed，
// 将快照异步写入 task_history 表，供 /api/v1/history 查询与按保留期清理。
package history
