// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 TaskFlow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、llm、
orchestrator、api 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode - 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - Message           - 交给 provider 的历史对话轮次
  - TokenUsage        - Token 消耗统计
  - TokenCounter      - 最小 Token 计数接口（CountTokens(string) int）

# 主要能力

  - Context 传播：WithTraceID / WithTaskID / WithRequestID / WithPipelineID / WithAgentID
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable / IsCancelled / IsProviderError
  - 常用错误构造：NewProviderError / NewCancelledError / NewUnknownPipelineError 等
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
*/
package types
