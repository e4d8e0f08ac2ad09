// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供多阶段流水线的定义、注册与执行。

# 核心类型

  - Pipeline    - 流水线定义：ID、名称、执行模式、重试策略与阶段列表
  - Stage       - 单个阶段：类型（process / enhance / transform / validate /
    aggregate）、所需能力、可选的 provider / model、提示词模板
  - Engine      - 流水线注册表与执行器，跟踪进行中的运行以支持取消
  - Result      - 一次运行的阶段记录与最终输出

# 执行模式

顺序模式（sequential）把每个阶段的输出作为下一阶段的输入，
任一阶段在重试耗尽后失败即中止整条流水线。
并行模式（parallel）所有阶段接收相同输入，各自成败，不产生最终输出。

提示词中的 {input} 会替换为当前输入；transform 与 validate 阶段
可以挂载本地函数，此时不调用 provider。

阶段开始、完成与失败通过 event.Publisher 发布，
事件负载为 RunEvent。

内置流水线见 DefaultPipelines：content-gen、code-gen、analysis、creative。
YAML 定义文件由 workflow/dsl 解析并注册到 Engine。
*/
package workflow
