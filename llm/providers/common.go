package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 types.Error
// 这是所有提供者使用的通用错误映射函数
func MapHTTPError(status int, msg string, provider string) *types.Error {
	e := &types.Error{
		Message:    msg,
		HTTPStatus: status,
		Provider:   provider,
	}
	switch status {
	case http.StatusUnauthorized:
		e.Code = types.ErrAuthentication
	case http.StatusForbidden:
		e.Code = types.ErrForbidden
	case http.StatusNotFound:
		e.Code = types.ErrModelNotFound
	case http.StatusTooManyRequests:
		e.Code = types.ErrRateLimit
		e.Retryable = true
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		msgLower := strings.ToLower(msg)
		switch {
		case strings.Contains(msgLower, "quota"),
			strings.Contains(msgLower, "credit"),
			strings.Contains(msgLower, "billing"):
			e.Code = types.ErrQuotaExceeded
		case strings.Contains(msgLower, "context length"),
			strings.Contains(msgLower, "too long"):
			e.Code = types.ErrContextTooLong
		default:
			e.Code = types.ErrInvalidRequest
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code = types.ErrUpstreamTimeout
		e.Retryable = true
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		e.Code = types.ErrServiceUnavailable
		e.Retryable = true
	default:
		e.Code = types.ErrProviderError
		e.Retryable = status >= 500
	}
	return e
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Message string `json:"message"`
		Name    string `json:"name"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if errResp.Message != "" {
			if errResp.Name != "" {
				return fmt.Sprintf("%s (name: %s)", errResp.Message, errResp.Name)
			}
			return errResp.Message
		}
	}

	return strings.TrimSpace(string(data))
}

// httpCoder 部分 SDK 错误（gax apierror）暴露状态码的方式
type httpCoder interface {
	HTTPCode() int
}

// MapSDKError 归一化 SDK 错误。status 为 0 时尝试从错误链中提取 HTTP 状态码。
// ctx 取消类错误原样返回，由 Router 统一转换为 CANCELLED。
func MapSDKError(err error, status int, provider string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if status == 0 {
		var hc httpCoder
		if errors.As(err, &hc) {
			status = hc.HTTPCode()
		}
	}
	if status <= 0 {
		return types.NewProviderError(provider, err.Error(), 0).WithCause(err)
	}
	return MapHTTPError(status, err.Error(), provider).WithCause(err)
}

// ChooseModel 按优先级选择模型：请求 > 默认 > 兜底
func ChooseModel(req *llm.Request, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// SystemPrompt returns the system prompt of req, or the engine default.
func SystemPrompt(req *llm.Request) string {
	if req.Parameters.SystemPrompt != "" {
		return req.Parameters.SystemPrompt
	}
	return llm.DefaultSystemPrompt
}

// MaxTokens returns the max tokens of req, or the engine default.
func MaxTokens(req *llm.Request) int {
	if req.Parameters.MaxTokens > 0 {
		return req.Parameters.MaxTokens
	}
	return llm.DefaultMaxTokens
}

// EmptyResponseError reports a 2xx response without usable content.
func EmptyResponseError(provider string) *types.Error {
	return types.NewProviderError(provider, "malformed response: no content returned", 0).WithRetryable(true)
}
