// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

// Package config 提供 TaskFlow 的配置加载。
//
// 配置来源依次为默认值、YAML 文件、credentials.toml 与 TASKFLOW_ 前缀环境变量，
// 后者覆盖前者。provider 的 API Key 未在 YAML 中给出时，
// 依次从 credentials 文件的 [provider]、[llm] 段和 <PROVIDER>_API_KEY 环境变量读取。
package config
