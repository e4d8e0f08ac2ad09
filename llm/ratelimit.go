package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider 在调用前按令牌桶限流。等待期间 ctx 取消会直接返回 ctx 错误。
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps p with a limiter of rps requests per second.
// rps <= 0 returns p unchanged.
func NewRateLimitedProvider(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

func (p *RateLimitedProvider) Call(ctx context.Context, req *Request) (*Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return p.inner.Call(ctx, req)
}

// Unwrap returns the wrapped provider.
func (p *RateLimitedProvider) Unwrap() Provider { return p.inner }
