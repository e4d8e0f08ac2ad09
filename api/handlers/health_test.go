package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) ServiceHealthResponse {
	t.Helper()
	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func TestHealthHandler_LivenessIgnoresDependencies(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	// 存活探针不执行依赖检查，任务库不可用时进程仍视为存活
	h.RegisterCheck(NewPingCheck("database", func(context.Context) error {
		t.Error("liveness must not ping dependencies")
		return nil
	}))

	for path, handle := range map[string]http.HandlerFunc{
		"/health":  h.HandleHealth,
		"/healthz": h.HandleHealthz,
	} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handle(w, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			status := decodeHealth(t, w)
			assert.Equal(t, "healthy", status.Status)
			assert.Empty(t, status.Checks)
			assert.False(t, status.Timestamp.IsZero())
		})
	}
}

func TestHealthHandler_ReadyReportsTaskStores(t *testing.T) {
	tests := []struct {
		name     string
		redis    error
		database error
		code     int
		status   string
	}{
		{name: "cache and history reachable", code: http.StatusOK, status: "healthy"},
		{name: "history database down", database: errors.New("dial tcp 10.0.0.5:5432: connection refused"), code: http.StatusServiceUnavailable, status: "unhealthy"},
		{name: "task cache down", redis: errors.New("NOAUTH Authentication required"), code: http.StatusServiceUnavailable, status: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(nil)
			h.RegisterCheck(NewPingCheck("redis", func(context.Context) error { return tt.redis }))
			h.RegisterCheck(NewPingCheck("database", func(context.Context) error { return tt.database }))

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.code, w.Code)
			status := decodeHealth(t, w)
			assert.Equal(t, tt.status, status.Status)
			require.Len(t, status.Checks, 2)
			for name, cause := range map[string]error{"redis": tt.redis, "database": tt.database} {
				got := status.Checks[name]
				assert.NotEmpty(t, got.Latency, name)
				if cause == nil {
					assert.Equal(t, "pass", got.Status, name)
					assert.Empty(t, got.Message, name)
				} else {
					assert.Equal(t, "fail", got.Status, name)
					assert.Equal(t, cause.Error(), got.Message, name)
				}
			}
		})
	}
}

func TestHealthHandler_ReadyWithoutStores(t *testing.T) {
	// 内存模式下没有注册任何依赖
	w := httptest.NewRecorder()
	NewHealthHandler(nil).HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, "healthy", status.Status)
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_ReadyHonoursRequestCancel(t *testing.T) {
	h := NewHealthHandler(nil)
	h.RegisterCheck(NewPingCheck("database", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil).WithContext(ctx))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, context.Canceled.Error(), decodeHealth(t, w).Checks["database"].Message)
}

func TestHealthHandler_ReadyRunsChecksInParallel(t *testing.T) {
	h := NewHealthHandler(nil)
	release := make(chan struct{})
	wait := func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.RegisterCheck(NewPingCheck("redis", wait))
	h.RegisterCheck(NewPingCheck("database", wait))
	// 串行执行时前两个检查会等到超时
	h.RegisterCheck(NewPingCheck("scheduler", func(context.Context) error {
		close(release)
		return nil
	}))

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler_ConcurrentRegisterAndReady(t *testing.T) {
	h := NewHealthHandler(nil)
	var pings atomic.Int32
	counted := func(context.Context) error {
		pings.Add(1)
		return nil
	}

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			h.RegisterCheck(NewPingCheck("redis", counted))
			return nil
		})
		g.Go(func() error {
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if w.Code != http.StatusOK {
				return errors.New(w.Body.String())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	w := httptest.NewRecorder()
	before := pings.Load()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, int32(8), pings.Load()-before)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(nil).HandleVersion("0.4.2", "2026-10-01T08:00:00Z", "9f1c2ab")

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{
		"version":    "0.4.2",
		"build_time": "2026-10-01T08:00:00Z",
		"git_commit": "9f1c2ab",
	}, resp.Data)
}

type pingKey struct{}

func TestPingCheck_DelegatesToStore(t *testing.T) {
	var got context.Context
	check := NewPingCheck("database", func(ctx context.Context) error {
		got = ctx
		return errors.New("pq: the database system is starting up")
	})

	ctx := context.WithValue(context.Background(), pingKey{}, "x")
	assert.Equal(t, "database", check.Name())
	assert.EqualError(t, check.Check(ctx), "pq: the database system is starting up")
	assert.Equal(t, ctx, got)
}

var _ HealthCheck = (*PingCheck)(nil)
