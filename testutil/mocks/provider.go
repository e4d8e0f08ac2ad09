// MockProvider 是 llm.Provider 的测试模拟实现。
//
// 支持固定响应、错误注入、延迟、阻塞直到取消以及自定义调用函数。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	name     string
	model    string
	response string
	err      error

	promptTokens     int
	completionTokens int

	calls    []MockProviderCall
	callFunc func(ctx context.Context, req *llm.Request) (*llm.Response, error)

	delay     time.Duration
	failFirst int
	block     bool
	started   chan struct{}
	startOnce sync.Once
	callCount int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  llm.Request
	Response *llm.Response
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:             name,
		model:            name + "-model",
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
		started:          make(chan struct{}),
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithModel 设置响应中的模型名
func (m *MockProvider) WithModel(model string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	return m
}

// WithError 设置每次调用都返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithTokenUsage 设置 Token 使用量。两者都为 0 时响应不带 usage。
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailFirst 前 n 次调用失败，之后成功
func (m *MockProvider) WithFailFirst(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	return m
}

// WithBlockUntilCancel 调用阻塞直到 ctx 取消
func (m *MockProvider) WithBlockUntilCancel() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = true
	return m
}

// WithCallFunc 设置自定义调用函数，优先于其他配置
func (m *MockProvider) WithCallFunc(fn func(ctx context.Context, req *llm.Request) (*llm.Response, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callFunc = fn
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return m.name
}

// Call 实现 llm.Provider
func (m *MockProvider) Call(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	fn := m.callFunc
	delay := m.delay
	block := m.block
	failFirst := m.failFirst
	err := m.err
	resp := &llm.Response{Content: m.response, Model: m.model}
	if m.promptTokens > 0 || m.completionTokens > 0 {
		resp.Usage = &types.TokenUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		}
	}
	m.mu.Unlock()

	m.startOnce.Do(func() { close(m.started) })

	var out *llm.Response
	var callErr error
	switch {
	case fn != nil:
		out, callErr = fn(ctx, req)
	case block:
		<-ctx.Done()
		callErr = ctx.Err()
	default:
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				callErr = ctx.Err()
			}
		}
		if callErr == nil {
			switch {
			case err != nil:
				callErr = err
			case n <= failFirst:
				callErr = types.NewProviderError(m.name, "scripted failure", 503)
			default:
				out = resp
			}
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockProviderCall{Request: *req, Response: out, Error: callErr})
	m.mu.Unlock()
	return out, callErr
}

// --- 断言辅助 ---

// Started 在第一次调用开始时关闭
func (m *MockProvider) Started() <-chan struct{} {
	return m.started
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// Calls 返回调用记录的副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastRequest 返回最后一次请求
func (m *MockProvider) LastRequest() (llm.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return llm.Request{}, errors.New("no calls recorded")
	}
	return m.calls[len(m.calls)-1].Request, nil
}

// Reset 清空调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
}

// NewRegistry 用一组 mock 构建 ProviderRegistry
func NewRegistry(providers ...*MockProvider) *llm.ProviderRegistry {
	reg := llm.NewProviderRegistry()
	for _, p := range providers {
		reg.Register(p)
	}
	return reg
}
