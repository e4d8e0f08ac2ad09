package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

func TestMapHTTPError(t *testing.T) {
	testCases := []struct {
		name          string
		status        int
		msg           string
		expectedCode  types.ErrorCode
		expectedRetry bool
	}{
		{"401 Unauthorized", http.StatusUnauthorized, "Invalid API key", types.ErrAuthentication, false},
		{"403 Forbidden", http.StatusForbidden, "Access denied", types.ErrForbidden, false},
		{"404 model", http.StatusNotFound, "model not found", types.ErrModelNotFound, false},
		{"429 Rate Limited", http.StatusTooManyRequests, "Rate limit exceeded", types.ErrRateLimit, true},
		{"400 quota", http.StatusBadRequest, "You exceeded your current quota", types.ErrQuotaExceeded, false},
		{"400 credit", http.StatusBadRequest, "Insufficient CREDIT balance", types.ErrQuotaExceeded, false},
		{"400 context", http.StatusBadRequest, "prompt is too long", types.ErrContextTooLong, false},
		{"400 generic", http.StatusBadRequest, "missing field", types.ErrInvalidRequest, false},
		{"408 timeout", http.StatusRequestTimeout, "slow", types.ErrUpstreamTimeout, true},
		{"504 timeout", http.StatusGatewayTimeout, "slow", types.ErrUpstreamTimeout, true},
		{"502", http.StatusBadGateway, "bad gateway", types.ErrServiceUnavailable, true},
		{"503", http.StatusServiceUnavailable, "unavailable", types.ErrServiceUnavailable, true},
		{"529 overloaded", 529, "overloaded", types.ErrServiceUnavailable, true},
		{"500", http.StatusInternalServerError, "boom", types.ErrProviderError, true},
		{"418", http.StatusTeapot, "teapot", types.ErrProviderError, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := MapHTTPError(tc.status, tc.msg, "openai")
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.Equal(t, tc.expectedRetry, err.Retryable)
			assert.Equal(t, tc.status, err.HTTPStatus)
			assert.Equal(t, "openai", err.Provider)
			assert.Equal(t, tc.msg, err.Message)
			assert.True(t, types.IsProviderError(err))
		})
	}
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad key (type: invalid_request_error)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key","type":"invalid_request_error"}}`)))
	assert.Equal(t, "invalid prompt (name: bad_request)",
		ReadErrorMessage(strings.NewReader(`{"name":"bad_request","message":"invalid prompt"}`)))
	assert.Equal(t, "plain text", ReadErrorMessage(strings.NewReader("plain text\n")))
}

type codedErr struct{ code int }

func (e codedErr) Error() string { return fmt.Sprintf("rpc error %d", e.code) }
func (e codedErr) HTTPCode() int { return e.code }

func TestMapSDKError(t *testing.T) {
	assert.NoError(t, MapSDKError(nil, 0, "google"))

	assert.ErrorIs(t, MapSDKError(context.Canceled, 0, "google"), context.Canceled)

	structured := types.NewProviderError("google", "x", 500)
	assert.Same(t, structured, MapSDKError(structured, 0, "google"))

	err := MapSDKError(fmt.Errorf("wrapped: %w", codedErr{code: 429}), 0, "google")
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrRateLimit, e.Code)
	assert.Equal(t, "google", e.Provider)

	err = MapSDKError(errors.New("connection reset"), 0, "google")
	e, ok = types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrProviderError, e.Code)
	assert.True(t, e.Retryable)
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req", ChooseModel(&llm.Request{Model: "req"}, "def", "fb"))
	assert.Equal(t, "def", ChooseModel(&llm.Request{}, "def", "fb"))
	assert.Equal(t, "fb", ChooseModel(nil, "", "fb"))
}
