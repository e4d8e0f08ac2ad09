package llm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(2, 0)
	c.Set("a", &Response{ID: "a"})
	c.Set("b", &Response{ID: "b"})

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", &Response{ID: "c"})

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_TTL(t *testing.T) {
	c := NewLRUCache(10, 10*time.Millisecond)
	c.Set("a", &Response{ID: "a"})
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUCache_Clear(t *testing.T) {
	c := NewLRUCache(10, 0)
	c.Set("a", &Response{ID: "a"})
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func setupRedisCache(t *testing.T) (*miniredis.Miniredis, *MultiLevelCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DefaultCacheConfig()
	cfg.EnableLocal = false
	return mr, NewMultiLevelCache(rdb, cfg, zap.NewNop())
}

func TestMultiLevelCache_Redis(t *testing.T) {
	mr, c := setupRedisCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "req-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, &Response{ID: "req-1", Provider: "openai", Content: "hi"}))
	assert.True(t, mr.Exists("taskflow:response:req-1"))

	got, err := c.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, "openai", got.Provider)

	require.NoError(t, c.Set(ctx, &Response{ID: "req-2"}))
	require.NoError(t, c.Clear(ctx))
	assert.False(t, mr.Exists("taskflow:response:req-1"))
	assert.False(t, mr.Exists("taskflow:response:req-2"))
}

func TestMultiLevelCache_IgnoresAnonymousResponses(t *testing.T) {
	c := NewLocalCache(10, 0)
	require.NoError(t, c.Set(context.Background(), &Response{Content: "no id"}))
	require.NoError(t, c.Set(context.Background(), nil))
	assert.Equal(t, 0, c.local.Len())
}

func TestSelectionPolicy_Candidates(t *testing.T) {
	p := DefaultSelectionPolicy()
	assert.Equal(t, []string{"openai", "anthropic", "google"}, p.Candidates(CapabilityCode))
	assert.Equal(t, []string{"anthropic", "openai", "google"}, p.Candidates(CapabilityText))
	assert.Equal(t, []string{"stability", "openai", "anthropic", "google"}, p.Candidates(CapabilityImage))
}

func TestParameters_WithDefaults(t *testing.T) {
	p := Parameters{Temperature: Float(0)}.withDefaults()
	assert.Equal(t, 0.0, p.TemperatureOr(1))
	assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
	assert.Equal(t, DefaultSystemPrompt, p.SystemPrompt)
}

func TestRateLimitedProvider(t *testing.T) {
	inner := ProviderFunc{ProviderName: "openai", Fn: func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Content: "ok"}, nil
	}}
	assert.IsType(t, ProviderFunc{}, NewRateLimitedProvider(inner, 0, 0))

	p := NewRateLimitedProvider(inner, 1, 1)
	assert.Equal(t, "openai", p.Name())

	_, err := p.Call(context.Background(), &Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Call(ctx, &Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
