package tokenizer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/types"
)

// Tokenizer 统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Counter 将 Tokenizer 适配为 types.TokenCounter。
// 精确计数失败（例如编码表无法下载）时退回字符估算，只记录一次警告。
type Counter struct {
	primary  Tokenizer
	fallback *types.EstimateTokenizer
	logger   *zap.Logger
	warnOnce sync.Once
}

// NewCounter creates a counter. primary 为 nil 时只使用估算。
func NewCounter(primary Tokenizer, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		primary:  primary,
		fallback: types.NewEstimateTokenizer(),
		logger:   logger,
	}
}

// ForModel returns a counter for model: tiktoken for OpenAI-family models, estimation otherwise.
func ForModel(model string, logger *zap.Logger) *Counter {
	if t, ok := NewTiktokenTokenizer(model); ok {
		return NewCounter(t, logger)
	}
	return NewCounter(nil, logger)
}

// CountTokens implements types.TokenCounter.
func (c *Counter) CountTokens(text string) int {
	if c.primary != nil {
		n, err := c.primary.CountTokens(text)
		if err == nil {
			return n
		}
		c.warnOnce.Do(func() {
			c.logger.Warn("exact token counting unavailable, falling back to estimation",
				zap.String("tokenizer", c.primary.Name()), zap.Error(err))
		})
	}
	return c.fallback.CountTokens(text)
}
