package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/internal/tlsutil"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/providers"
	"github.com/BaSui01/taskflow/types"
)

const providerName = "anthropic"

// Provider 实现 llm.Provider
type Provider struct {
	client *anthropic.Client
	cfg    providers.ClaudeConfig
	logger *zap.Logger
}

// New 创建 Claude Provider
func New(cfg providers.ClaudeConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(tlsutil.SecureHTTPClient(0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := anthropic.NewClient(opts...)
	return &Provider{
		client: &client,
		cfg:    cfg,
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

// Call 执行一次 Messages API 调用。Claude 不支持 image 生成，按文本处理。
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := providers.ChooseModel(req, p.cfg.Model, providers.DefaultClaudeModel)
	system, messages := buildMessages(req)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(providers.MaxTokens(req)),
		Messages:    messages,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Temperature: anthropic.Float(req.Parameters.TemperatureOr(llm.DefaultTemperature)),
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			p.logger.Debug("anthropic api error", zap.Int("status", apiErr.StatusCode), zap.Error(err))
			return nil, providers.MapSDKError(err, apiErr.StatusCode, providerName)
		}
		return nil, providers.MapSDKError(err, 0, providerName)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, providers.EmptyResponseError(providerName)
	}

	out := &llm.Response{Model: string(resp.Model), Content: sb.String()}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		out.Usage = &types.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}
	return out, nil
}

// buildMessages 拆出 system 提示，历史中的 system 消息并入 system 块。
// 相邻同角色消息合并，保证 user/assistant 交替。
func buildMessages(req *llm.Request) (string, []anthropic.MessageParam) {
	system := providers.SystemPrompt(req)
	type turn struct {
		role types.Role
		text string
	}
	var turns []turn
	push := func(role types.Role, text string) {
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text += "\n\n" + text
			return
		}
		turns = append(turns, turn{role: role, text: text})
	}
	for _, m := range req.Context {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case types.RoleSystem:
			system += "\n\n" + m.Content
		case types.RoleAssistant:
			push(types.RoleAssistant, m.Content)
		default:
			push(types.RoleUser, m.Content)
		}
	}
	push(types.RoleUser, req.Prompt)

	// 首条必须是 user
	if turns[0].role == types.RoleAssistant {
		turns = turns[1:]
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.role == types.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.text)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.text)))
		}
	}
	return system, out
}
