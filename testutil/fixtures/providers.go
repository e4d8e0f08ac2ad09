package fixtures

import (
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/testutil/mocks"
)

// ProviderNames 默认 agent 目录中对应 provider 的名字
var ProviderNames = []string{"openai", "anthropic", "google", "stability", "meta", "cohere"}

// AllProviders 为每个默认 provider 创建 mock，响应内容为 "<name> response"
func AllProviders() []*mocks.MockProvider {
	out := make([]*mocks.MockProvider, 0, len(ProviderNames))
	for _, name := range ProviderNames {
		out = append(out, mocks.NewMockProvider(name).WithResponse(name+" response"))
	}
	return out
}

// Registry 注册全部默认 provider 的 mock
func Registry() (*llm.ProviderRegistry, map[string]*mocks.MockProvider) {
	providers := AllProviders()
	byName := make(map[string]*mocks.MockProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return mocks.NewRegistry(providers...), byName
}
