package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 家族模型提供 tiktoken 精确计数.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// modelEncodings 将模型名称前缀映射到 tiktoken 编码和上下文大小。按最长前缀优先排列。
var modelEncodings = []struct {
	prefix string
	info   encodingInfo
}{
	{"gpt-4o-mini", encodingInfo{"o200k_base", 128000}},
	{"gpt-4o", encodingInfo{"o200k_base", 128000}},
	{"gpt-4-turbo", encodingInfo{"cl100k_base", 128000}},
	{"gpt-4", encodingInfo{"cl100k_base", 8192}},
	{"gpt-3.5-turbo", encodingInfo{"cl100k_base", 16385}},
	{"text-embedding-3", encodingInfo{"cl100k_base", 8191}},
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器；非 OpenAI 家族模型返回 false。
func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, bool) {
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			return &TiktokenTokenizer{
				model:     model,
				encoding:  m.info.encoding,
				maxTokens: m.info.maxTokens,
			}, true
		}
	}
	return nil, false
}

// init lazily 初始化 tiktoken 编码（第一次使用时可能下载数据）.
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
