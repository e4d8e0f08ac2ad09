// Package tokenizer 提供基于 tiktoken 的 Token 计数，
// 用于 provider 未返回 usage 时估算请求与响应的 Token 数。
package tokenizer
