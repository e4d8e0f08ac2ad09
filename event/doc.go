// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package event 提供进程内同步事件总线。

任务生命周期（task:created / task:started / task:completed / task:retry /
task:failed）、Agent 状态变化（agent:status）以及流水线进度（pipeline:*）
都通过 Bus 广播给订阅者。事件不排队、不重放，订阅之前发生的事件不可见。

订阅 All 可以接收全部类型，metrics、history 与 WebSocket 推送均以此方式接入。
*/
package event
