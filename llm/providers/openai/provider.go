package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/internal/tlsutil"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/providers"
	"github.com/BaSui01/taskflow/types"
)

const (
	defaultImageSize    = "1024x1024"
	defaultImageQuality = "hd"
)

// Provider 实现 llm.Provider
type Provider struct {
	name   string
	client *openai.Client
	cfg    providers.OpenAIConfig
	logger *zap.Logger
}

// New 创建 OpenAI Provider。cfg.Name 为空时注册名为 "openai"。
func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	// 重试由调度器负责，SDK 内部不再重试
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(tlsutil.SecureHTTPClient(0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)

	return &Provider{
		name:   name,
		client: &client,
		cfg:    cfg,
		logger: logger.With(zap.String("provider", name)),
	}
}

// Name 返回注册名
func (p *Provider) Name() string { return p.name }

// Call 执行一次调用
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req.Capability == llm.CapabilityImage {
		return p.generateImage(ctx, req)
	}
	return p.chat(ctx, req)
}

func (p *Provider) chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := providers.ChooseModel(req, p.cfg.Model, providers.DefaultOpenAIModel)

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    buildMessages(req),
		MaxTokens:   openai.Int(int64(providers.MaxTokens(req))),
		Temperature: openai.Float(req.Parameters.TemperatureOr(llm.DefaultTemperature)),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.EmptyResponseError(p.name)
	}

	out := &llm.Response{
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
	}
	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 {
		out.Usage = &types.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	return out, nil
}

func (p *Provider) generateImage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := p.cfg.ImageModel
	if model == "" {
		model = providers.DefaultOpenAIImageModel
	}
	size := req.Parameters.ImageSize
	if size == "" {
		size = defaultImageSize
	}
	quality := req.Parameters.ImageQuality
	if quality == "" {
		quality = defaultImageQuality
	}

	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  req.Prompt,
		Model:   openai.ImageModel(model),
		N:       openai.Int(1),
		Size:    openai.ImageGenerateParamsSize(size),
		Quality: openai.ImageGenerateParamsQuality(quality),
	})
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, providers.EmptyResponseError(p.name)
	}
	return &llm.Response{Model: model, Content: resp.Data[0].URL}, nil
}

func (p *Provider) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		p.logger.Debug("openai api error", zap.Int("status", apiErr.StatusCode), zap.Error(err))
		return providers.MapSDKError(err, apiErr.StatusCode, p.name)
	}
	return providers.MapSDKError(err, 0, p.name)
}

// buildMessages: system 提示 + 历史上下文 + 当前 prompt
func buildMessages(req *llm.Request) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Context)+2)
	msgs = append(msgs, openai.SystemMessage(providers.SystemPrompt(req)))
	for _, m := range req.Context {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case types.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case types.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))
	return msgs
}
