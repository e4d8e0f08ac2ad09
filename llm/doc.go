// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
包 llm 提供统一的智能后端接入层：Provider 抽象、按能力的路由、
响应缓存、限流、成本统计与可观测埋点。

# 核心类型

  - [Provider]：单个后端的调用边界，只需返回 Content / Model / Usage
  - [Router]：按 [SelectionPolicy] 选择 Provider，支持按请求 ID 取消与合并
  - [ProviderRegistry]：线程安全的 Provider 注册表，Agent ID 即 Provider 名称
  - [ResponseCache]：按请求 ID 缓存已完成的响应（本地 LRU + Redis）
  - [CostCalculator]：按模型价格表计算调用成本

# 错误语义

Router 不做内部重试。所有失败都归一化为 types.Error：
取消为 CANCELLED，超时为 UPSTREAM_TIMEOUT（可重试），其余携带 provider 名称。
重试由调度器（任务级）或流水线（阶段级）负责，退避策略见子包 retry。

# 子包

  - providers：openai / anthropic / gemini / stability 具体实现
  - factory：按配置构建 ProviderRegistry
  - circuitbreaker：Provider 熔断包装
  - retry：指数与线性退避
  - tokenizer：tiktoken 计数与估算回退
*/
package llm
