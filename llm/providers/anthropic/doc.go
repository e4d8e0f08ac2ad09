// Package anthropic 基于 anthropic-sdk-go 的 Claude Provider 实现。
package anthropic
