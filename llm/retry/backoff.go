// Package retry 提供指数与线性退避重试。
//
// 调度器的任务级重试不经过这里（失败任务直接回到队尾）；
// 本包服务于流水线阶段级重试：第 n 次重试前等待 base×n。
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// BackoffKind 退避曲线
type BackoffKind int

const (
	// BackoffExponential delay = initial * multiplier^(attempt-1)
	BackoffExponential BackoffKind = iota
	// BackoffLinear delay = initial * attempt
	BackoffLinear
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxRetries      int                                               // 最大重试次数（0 表示不重试）
	InitialDelay    time.Duration                                     // 初始延迟（线性模式下为基础延迟）
	MaxDelay        time.Duration                                     // 最大延迟
	Multiplier      float64                                           // 指数倍增因子
	Backoff         BackoffKind                                       // 退避曲线
	Jitter          bool                                              // ±25% 随机抖动
	RetryableErrors []error                                           // 为空则所有错误可重试
	ShouldRetry     func(err error) bool                              // 返回 false 立即放弃
	OnRetry         func(attempt int, err error, delay time.Duration) // 每次等待前回调
}

// LinearRetryPolicy 第 n 次重试前等待 base*n，无抖动。
func LinearRetryPolicy(maxRetries int, base time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: base,
		MaxDelay:     base * time.Duration(maxRetries+1),
		Multiplier:   1.0,
		Backoff:      BackoffLinear,
	}
}

// DefaultRetryPolicy 指数退避，适用于上游 API 调用
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 重试器
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// ErrExhausted 重试次数耗尽，与最后一次错误一起返回
var ErrExhausted = errors.New("retries exhausted")

type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建重试器。policy 会被复制，调用方后续修改不影响已创建的实例。
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: p, logger: logger}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			return nil, err
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr))
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, r.policy.MaxRetries+1, lastErr)
}

func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	var delay float64
	switch r.policy.Backoff {
	case BackoffLinear:
		delay = float64(r.policy.InitialDelay) * float64(attempt)
	default:
		delay = float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	}
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(err) {
		return false
	}
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}
	for _, target := range r.policy.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// DoTyped is a type-safe wrapper around Retryer.DoWithResult.
func DoTyped[T any](ctx context.Context, r Retryer, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
