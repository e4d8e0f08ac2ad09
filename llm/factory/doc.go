// Package factory 按名称构建 Provider 并组装 ProviderRegistry，隔离 llm 与各 provider 子包之间的依赖。
package factory
