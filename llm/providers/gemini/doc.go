// Package gemini 基于 generative-ai-go 的 Google Gemini Provider 实现。
package gemini
