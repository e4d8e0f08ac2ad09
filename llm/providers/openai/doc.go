// Package openai 基于 openai-go SDK 的 Provider 实现。
//
// 文本类能力走 Chat Completions；image 能力走 Images API（dall-e-3）。
// 通过 OpenAIConfig.Name 与 BaseURL 也可对接 OpenAI 兼容端点（如 meta、cohere）。
package openai
