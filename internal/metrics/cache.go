package metrics

import (
	"context"
	"errors"

	"github.com/BaSui01/taskflow/llm"
)

// InstrumentedCache 统计响应缓存的命中率
type InstrumentedCache struct {
	inner     llm.ResponseCache
	collector *Collector
	cacheType string
}

// InstrumentCache 包装 cache，每次 Get 记录 hit 或 miss
func InstrumentCache(inner llm.ResponseCache, collector *Collector, cacheType string) *InstrumentedCache {
	return &InstrumentedCache{inner: inner, collector: collector, cacheType: cacheType}
}

func (c *InstrumentedCache) Get(ctx context.Context, requestID string) (*llm.Response, error) {
	resp, err := c.inner.Get(ctx, requestID)
	switch {
	case err == nil:
		c.collector.RecordCacheHit(c.cacheType)
	case errors.Is(err, llm.ErrCacheMiss):
		c.collector.RecordCacheMiss(c.cacheType)
	}
	return resp, err
}

func (c *InstrumentedCache) Set(ctx context.Context, resp *llm.Response) error {
	return c.inner.Set(ctx, resp)
}

func (c *InstrumentedCache) Clear(ctx context.Context) error {
	return c.inner.Clear(ctx)
}
