// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package agent 维护执行 Agent 目录：每个 Provider 一个 Agent，外加协调者等非 Provider 角色。

# 概述

[Directory] 记录每个 Agent 的能力集合、可用状态（idle / busy / error）、
当前占用的任务以及滚动性能统计。目录在构造时由固定的 [Spec] 列表创建，
之后 Agent 不会被销毁。

# 选择策略

[Directory.SelectBest] 在持有所需能力且处于 idle 的 Agent 中按成功率降序选择，
成功率相同按注册顺序；没有候选时返回默认 Agent（openai），从不失败。

# 性能统计

[Directory.RecordOutcome] 使用累计平均更新响应耗时，完成数加一；
成功率只在失败时按 rate·n/(n+1) 衰减，成功不会回升。
*/
package agent
