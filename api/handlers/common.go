package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/types"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteCreated(w, http.StatusOK, data)
}

// WriteCreated 以指定状态码写入成功响应
func WriteCreated(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 || err.Provider != "" {
		// provider 的 HTTP 状态属于上游，不直接透传
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(err.Code),
			Message:    err.Message,
			Provider:   err.Provider,
			Retryable:  err.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteErr 写入任意错误；非结构化错误按内部错误处理
func WriteErr(w http.ResponseWriter, err error, logger *zap.Logger) {
	WriteError(w, types.WrapError(err, types.ErrInternalError, "internal error"), logger)
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrAuthentication:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrTaskNotFound, types.ErrUnknownPipeline, types.ErrUnknownAgent, types.ErrModelNotFound:
		return http.StatusNotFound
	case types.ErrCancelled, types.ErrDuplicatePipeline:
		return http.StatusConflict
	case types.ErrValidationFailed, types.ErrNoCapableAgent:
		return http.StatusUnprocessableEntity
	case types.ErrContextTooLong:
		return http.StatusRequestEntityTooLarge
	case types.ErrRateLimit:
		return http.StatusTooManyRequests
	case types.ErrQuotaExceeded:
		return http.StatusPaymentRequired

	// 5xx
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUpstreamError, types.ErrProviderError, types.ErrAllAgentsFailed:
		return http.StatusBadGateway
	case types.ErrProviderUnavailable, types.ErrServiceUnavailable, types.ErrSchedulerStopped:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 上限，拒绝未知字段）。
// 失败时已写出错误响应，调用方直接返回即可。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewInvalidRequestError("request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		msg := "invalid JSON body"
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			msg = "request body too large"
		case errors.Is(err, io.EOF):
			msg = "request body is empty"
		}
		apiErr := types.NewInvalidRequestError(msg).WithCause(err)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteErrorMessage(w, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 记录首次写出的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap 供 http.ResponseController 访问底层连接（WebSocket 升级需要）
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
