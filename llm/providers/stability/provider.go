package stability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/internal/tlsutil"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/llm/providers"
	"github.com/BaSui01/taskflow/types"
)

const (
	providerName   = "stability"
	defaultBaseURL = "https://api.stability.ai"

	defaultCfgScale = 7
	defaultSteps    = 30
	imageDimension  = 1024
)

type textPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type generationRequest struct {
	TextPrompts []textPrompt `json:"text_prompts"`
	CfgScale    float64      `json:"cfg_scale"`
	Height      int          `json:"height"`
	Width       int          `json:"width"`
	Steps       int          `json:"steps"`
	Samples     int          `json:"samples"`
}

type generationResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		Seed         int64  `json:"seed"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

// Provider 实现 llm.Provider，仅支持 image 能力。
type Provider struct {
	cfg    providers.StabilityConfig
	client *http.Client
	logger *zap.Logger
}

// New 创建 Stability Provider
func New(cfg providers.StabilityConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

// Call 生成图像，Content 为 data:image/png;base64 URL。
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req.Capability != "" && req.Capability != llm.CapabilityImage {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("stability only supports %s capability, got %s", llm.CapabilityImage, req.Capability)).
			WithProvider(providerName).WithHTTPStatus(http.StatusBadRequest)
	}

	engine := providers.ChooseModel(req, p.cfg.Model, providers.DefaultStabilityEngine)
	cfgScale := p.cfg.CfgScale
	if cfgScale <= 0 {
		cfgScale = defaultCfgScale
	}
	steps := p.cfg.Steps
	if steps <= 0 {
		steps = defaultSteps
	}

	payload, err := json.Marshal(generationRequest{
		TextPrompts: []textPrompt{{Text: req.Prompt, Weight: 1}},
		CfgScale:    cfgScale,
		Height:      imageDimension,
		Width:       imageDimension,
		Steps:       steps,
		Samples:     1,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err).WithProvider(providerName)
	}

	endpoint := fmt.Sprintf("%s/v1/generation/%s/text-to-image", strings.TrimRight(p.cfg.BaseURL, "/"), engine)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "build request").WithCause(err).WithProvider(providerName)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapSDKError(err, 0, providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		p.logger.Debug("stability api error", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerName)
	}

	var out generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewProviderError(providerName, "malformed response: "+err.Error(), 0).WithCause(err)
	}
	if len(out.Artifacts) == 0 || out.Artifacts[0].Base64 == "" {
		return nil, providers.EmptyResponseError(providerName)
	}

	return &llm.Response{
		Model:   engine,
		Content: "data:image/png;base64," + out.Artifacts[0].Base64,
	}, nil
}
