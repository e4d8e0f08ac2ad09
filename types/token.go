package types

// TokenUsage represents token consumption statistics.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateTokenizer provides a simple character-based token estimation.
type EstimateTokenizer struct{}

// NewEstimateTokenizer creates a new EstimateTokenizer.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{}
}

// CountTokens counts tokens in text. CJK 按 1.5 字符/token，其余按 4 字符/token。
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var chineseCount, otherCount int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			chineseCount++
		} else {
			otherCount++
		}
	}
	tokens := float64(chineseCount)/1.5 + float64(otherCount)/4.0
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}
