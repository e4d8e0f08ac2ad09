package llm

import (
	"strings"
	"sync"
)

// ModelPrice 模型价格，单位 USD / 1K tokens
type ModelPrice struct {
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	PriceInput  float64 `json:"price_input" yaml:"price_input"`
	PriceOutput float64 `json:"price_output" yaml:"price_output"`
}

// CostCalculator 成本计算器。模型名精确匹配失败时按最长前缀匹配。
type CostCalculator struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice // key: provider:model
}

// NewCostCalculator 创建带默认价格表的计算器
func NewCostCalculator() *CostCalculator {
	c := &CostCalculator{prices: make(map[string]ModelPrice)}
	c.UpdatePrices(defaultPrices())
	return c
}

func defaultPrices() []ModelPrice {
	return []ModelPrice{
		{Provider: "openai", Model: "gpt-4-turbo", PriceInput: 0.01, PriceOutput: 0.03},
		{Provider: "openai", Model: "gpt-4o", PriceInput: 0.005, PriceOutput: 0.015},
		{Provider: "openai", Model: "gpt-4o-mini", PriceInput: 0.00015, PriceOutput: 0.0006},
		{Provider: "openai", Model: "gpt-3.5-turbo", PriceInput: 0.0005, PriceOutput: 0.0015},
		{Provider: "anthropic", Model: "claude-3-opus", PriceInput: 0.015, PriceOutput: 0.075},
		{Provider: "anthropic", Model: "claude-3-5-sonnet", PriceInput: 0.003, PriceOutput: 0.015},
		{Provider: "anthropic", Model: "claude-3-haiku", PriceInput: 0.00025, PriceOutput: 0.00125},
		{Provider: "google", Model: "gemini-pro", PriceInput: 0.0005, PriceOutput: 0.0015},
		{Provider: "google", Model: "gemini-1.5-pro", PriceInput: 0.00125, PriceOutput: 0.005},
		{Provider: "google", Model: "gemini-1.5-flash", PriceInput: 0.000075, PriceOutput: 0.0003},
		{Provider: "meta", Model: "meta-llama/Llama-3-70b", PriceInput: 0.0009, PriceOutput: 0.0009},
		{Provider: "cohere", Model: "command-r-plus", PriceInput: 0.003, PriceOutput: 0.015},
	}
}

// SetPrice 设置模型价格
func (c *CostCalculator) SetPrice(provider, model string, priceInput, priceOutput float64) {
	c.UpdatePrices([]ModelPrice{{Provider: provider, Model: model, PriceInput: priceInput, PriceOutput: priceOutput}})
}

// UpdatePrices 批量更新价格（从配置）
func (c *CostCalculator) UpdatePrices(prices []ModelPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range prices {
		c.prices[p.Provider+":"+p.Model] = p
	}
}

// GetPrice 获取模型价格
func (c *CostCalculator) GetPrice(provider, model string) (ModelPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.prices[provider+":"+model]; ok {
		return p, true
	}
	var best ModelPrice
	found := false
	for _, p := range c.prices {
		if p.Provider != provider || !strings.HasPrefix(model, p.Model) {
			continue
		}
		if !found || len(p.Model) > len(best.Model) {
			best, found = p, true
		}
	}
	return best, found
}

// Calculate 计算成本，未知模型返回 0
func (c *CostCalculator) Calculate(provider, model string, tokensInput, tokensOutput int) float64 {
	price, ok := c.GetPrice(provider, model)
	if !ok {
		return 0
	}
	return float64(tokensInput)/1000*price.PriceInput + float64(tokensOutput)/1000*price.PriceOutput
}

// CostSummary 成本汇总
type CostSummary struct {
	TotalCost       float64 `json:"total_cost"`
	TotalTokens     int     `json:"total_tokens"`
	TokensInput     int     `json:"tokens_input"`
	TokensOutput    int     `json:"tokens_output"`
	RequestCount    int     `json:"request_count"`
	AvgCostPerReq   float64 `json:"avg_cost_per_request"`
	AvgTokensPerReq float64 `json:"avg_tokens_per_request"`
}

// costTracker 进程级成本累计
type costTracker struct {
	mu      sync.Mutex
	summary CostSummary
}

func (t *costTracker) track(tokensInput, tokensOutput int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.summary.TotalCost += cost
	t.summary.TokensInput += tokensInput
	t.summary.TokensOutput += tokensOutput
	t.summary.TotalTokens += tokensInput + tokensOutput
	t.summary.RequestCount++
	t.summary.AvgCostPerReq = t.summary.TotalCost / float64(t.summary.RequestCount)
	t.summary.AvgTokensPerReq = float64(t.summary.TotalTokens) / float64(t.summary.RequestCount)
}

func (t *costTracker) snapshot() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}
