// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 TaskFlow 测试共享的辅助函数。

  - TestContext / TestContextWithTimeout / CancelledContext：带自动 Cleanup 的上下文
  - MetricsNamespace：按测试名生成唯一的 Prometheus namespace，
    避免多个 Collector 在默认 registry 上重复注册

# 子包

  - testutil/mocks：MockProvider（llm.Provider 的模拟实现，支持固定响应、
    错误注入、延迟、阻塞直到取消）与 NewRegistry
  - testutil/fixtures：本地 transform 流水线、按能力组装的 provider 流水线，
    以及覆盖默认 agent 目录的全套 mock provider

# 使用示例

	ctx := testutil.TestContext(t)
	o := newTestOrchestrator(t, fixtures.AllProviders()...)
	_ = o.Pipelines().Register(fixtures.LocalPipeline("local", "a", "b"))
	res, err := o.ExecutePipeline(ctx, "local", "x", nil)
*/
package testutil
