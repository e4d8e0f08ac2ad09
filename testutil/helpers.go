package testutil

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestContext 返回 30 秒超时的测试上下文，测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

var (
	nsInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
	nsSeq     atomic.Int64
)

// MetricsNamespace 为测试生成唯一的 Prometheus namespace。
// Collector 注册到默认 registry，同名指标重复注册会 panic。
func MetricsNamespace(t testing.TB) string {
	name := nsInvalid.ReplaceAllString(strings.ToLower(t.Name()), "_")
	name = strings.Trim(name, "_")
	if len(name) > 40 {
		name = name[:40]
	}
	return "tf_" + name + "_" + strconv.FormatInt(nsSeq.Add(1), 10)
}
