package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Provider error codes
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrAuthentication      ErrorCode = "AUTHENTICATION"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrRateLimit           ErrorCode = "RATE_LIMIT"
	ErrQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrModelNotFound       ErrorCode = "MODEL_NOT_FOUND"
	ErrContextTooLong      ErrorCode = "CONTEXT_TOO_LONG"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrProviderError       ErrorCode = "PROVIDER_ERROR"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Orchestration error codes
const (
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrUnknownPipeline   ErrorCode = "UNKNOWN_PIPELINE"
	ErrDuplicatePipeline ErrorCode = "DUPLICATE_PIPELINE"
	ErrAllAgentsFailed   ErrorCode = "ALL_AGENTS_FAILED"
	ErrUnknownAgent      ErrorCode = "UNKNOWN_AGENT"
	ErrNoCapableAgent    ErrorCode = "NO_CAPABLE_AGENT"
	ErrTaskNotFound      ErrorCode = "TASK_NOT_FOUND"
	ErrValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrSchedulerStopped  ErrorCode = "SCHEDULER_STOPPED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		if e.Cause != nil {
			return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Provider, e.Message, e.Cause)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Provider, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WrapError wraps err into a structured error unless it already is one.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// AsError extracts a structured error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any structured error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		e, ok := AsError(err)
		if !ok {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return IsErrorCode(err, ErrCancelled)
}

// IsProviderError reports whether err was raised by a provider (any code except cancellation).
func IsProviderError(err error) bool {
	e, ok := AsError(err)
	return ok && e.Provider != "" && e.Code != ErrCancelled
}

// =============================================================================
// 常用错误构造
// =============================================================================

// NewProviderError creates a provider failure. status 为 0 表示非 HTTP 失败。
func NewProviderError(provider, message string, status int) *Error {
	return &Error{
		Code:       ErrProviderError,
		Message:    message,
		HTTPStatus: status,
		Retryable:  status == 0 || status == 429 || status >= 500,
		Provider:   provider,
	}
}

// NewCancelledError creates a cancellation error.
func NewCancelledError(message string, cause error) *Error {
	return NewError(ErrCancelled, message).WithCause(cause)
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(400)
}

// NewUnknownPipelineError reports an unregistered pipeline id.
func NewUnknownPipelineError(id string) *Error {
	return NewError(ErrUnknownPipeline, fmt.Sprintf("pipeline %q not found", id)).WithHTTPStatus(404)
}

// NewUnknownAgentError reports an unregistered agent id.
func NewUnknownAgentError(id string) *Error {
	return NewError(ErrUnknownAgent, fmt.Sprintf("agent %q not found", id)).WithHTTPStatus(404)
}

// NewTaskNotFoundError reports an unknown task id.
func NewTaskNotFoundError(id string) *Error {
	return NewError(ErrTaskNotFound, fmt.Sprintf("task %q not found", id)).WithHTTPStatus(404)
}

// NewDuplicatePipelineError reports a second registration of the same pipeline id.
func NewDuplicatePipelineError(id string) *Error {
	return NewError(ErrDuplicatePipeline, fmt.Sprintf("pipeline %q already registered", id)).WithHTTPStatus(409)
}

// NewAllAgentsFailedError reports that no fan-out branch succeeded. errs 为各分支的失败原因。
func NewAllAgentsFailedError(errs ...error) *Error {
	return NewError(ErrAllAgentsFailed, fmt.Sprintf("all %d agents failed", len(errs))).
		WithHTTPStatus(502).
		WithCause(errors.Join(errs...))
}

// NewValidationFailedError reports a validator rejecting its input.
func NewValidationFailedError(stage string) *Error {
	return NewError(ErrValidationFailed, fmt.Sprintf("stage %q rejected its input", stage)).WithHTTPStatus(422)
}

// NewNoCapableAgentError reports that no agent holds a capability.
func NewNoCapableAgentError(capability string) *Error {
	return NewError(ErrNoCapableAgent, fmt.Sprintf("no agent offers capability %q", capability)).WithHTTPStatus(503)
}
