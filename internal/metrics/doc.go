// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集。

# 概述

Collector 使用 promauto 注册到默认 Registry，所有指标按 namespace 隔离。
它通过 Attach 以通配方式订阅事件总线，把任务、Agent 状态与流水线事件
转换为指标；同时实现 llm.CallObserver，由 Router 在每次 provider 调用后回调。

# 指标分组

  - HTTP：请求数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx
  - Provider：调用数、耗时、Token 用量、成本，按 provider/model 分组
  - 任务：提交数、终态数、重试数、最终一次执行耗时、执行中数量，按 kind 分组
  - Agent：当前状态、状态转换次数、成功率
  - 流水线：运行结果、运行耗时、阶段成败
  - 缓存：InstrumentCache 包装响应缓存后统计命中与未命中
  - 数据库：连接数与查询耗时，由任务归档存储上报
*/
package metrics
