package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/providers"
	"github.com/BaSui01/taskflow/types"
)

const providerName = "google"

// Provider 实现 llm.Provider。底层 client 在首次调用时惰性创建。
type Provider struct {
	cfg    providers.GeminiConfig
	logger *zap.Logger

	once    sync.Once
	client  *genai.Client
	initErr error
}

// New 创建 Gemini Provider
func New(cfg providers.GeminiConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger.With(zap.String("provider", providerName))}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) init(ctx context.Context) error {
	p.once.Do(func() {
		opts := []option.ClientOption{option.WithAPIKey(p.cfg.APIKey)}
		if p.cfg.BaseURL != "" {
			opts = append(opts, option.WithEndpoint(p.cfg.BaseURL))
		}
		// client 生命周期与 Provider 一致，不绑定单次调用的 ctx
		client, err := genai.NewClient(context.WithoutCancel(ctx), opts...)
		if err != nil {
			p.initErr = types.NewProviderError(providerName, fmt.Sprintf("create client: %v", err), 0).
				WithCause(err).WithRetryable(false)
			return
		}
		p.client = client
	})
	return p.initErr
}

// Close 释放底层连接
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Call 执行一次对话调用
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := p.init(ctx); err != nil {
		return nil, err
	}

	name := providers.ChooseModel(req, p.cfg.Model, providers.DefaultGeminiModel)
	model := p.client.GenerativeModel(name)
	model.SetTemperature(float32(req.Parameters.TemperatureOr(llm.DefaultTemperature)))
	model.SetMaxOutputTokens(int32(providers.MaxTokens(req)))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(providers.SystemPrompt(req))}}

	cs := model.StartChat()
	cs.History = buildHistory(req.Context)

	resp, err := cs.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		p.logger.Debug("gemini call failed", zap.String("model", name), zap.Error(err))
		return nil, providers.MapSDKError(err, 0, providerName)
	}

	content := extractText(resp)
	if content == "" {
		return nil, providers.EmptyResponseError(providerName)
	}
	return &llm.Response{Model: name, Content: content, Usage: usageFrom(resp)}, nil
}

// buildHistory 转换历史上下文。Gemini 角色为 user/model，system 消息按 user 处理。
func buildHistory(msgs []types.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func usageFrom(resp *genai.GenerateContentResponse) *types.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	u := resp.UsageMetadata
	return &types.TokenUsage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}
