package llm

import (
	"fmt"
	"slices"
	"sync"
)

// ProviderRegistry 按名字保存已配置 API key 的 provider。
// 名字与 Agent 目录中的 Agent ID 一一对应：Agent "google" 的调用由注册名为 "google" 的 provider 处理，
// 因此编排器只会选择 Has 返回 true 的 Agent。
type ProviderRegistry struct {
	mu        sync.RWMutex
	byName    map[string]Provider
	preferred string
}

// NewProviderRegistry 创建空注册表
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{byName: make(map[string]Provider)}
}

// Register 以 p.Name() 注册，同名覆盖（例如配置重载后的新实例）。
func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	r.byName[p.Name()] = p
	r.mu.Unlock()
}

func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Has 供 Agent 选择与路由策略过滤未配置的 provider
func (r *ProviderRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// SetDefault 指定兜底 provider，必须已注册。
func (r *ProviderRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("default provider %q has no api key configured", name)
	}
	r.preferred = name
	return nil
}

// Default 返回 SetDefault 指定的 provider。
func (r *ProviderRegistry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.preferred == "" {
		return nil, fmt.Errorf("no default provider configured")
	}
	return r.byName[r.preferred], nil
}

// List 返回排序后的 provider 名字
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
