// Copyright 2026 TaskFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是各具体 Provider 实现的公共基础层：配置结构、
HTTP 状态码到结构化错误的映射、SDK 错误归一化与模型选择。

# 核心类型

  - BaseProviderConfig - 所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout）
  - OpenAIConfig / ClaudeConfig / GeminiConfig / StabilityConfig - 各服务商配置

# 核心函数

  - MapHTTPError - 将 HTTP 状态码映射为语义化的 types.Error（含 Retryable 标记）
  - MapSDKError - 将 SDK 返回的错误归一化为 types.Error
  - ReadErrorMessage - 解析错误响应体
  - ChooseModel - 按优先级选择模型（请求 > 默认 > 兜底）

# 子包

  - openai    - openai-go SDK，支持文本与 dall-e 图像；也用于 OpenAI 兼容端点（meta、cohere）
  - anthropic - anthropic-sdk-go SDK
  - gemini    - generative-ai-go SDK
  - stability - Stability AI REST 接口
*/
package providers
