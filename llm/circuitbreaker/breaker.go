// Package circuitbreaker 为 Provider 提供熔断保护：连续失败达到阈值后快速失败，
// 等待恢复窗口后进入半开状态试探。
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int `json:"threshold" yaml:"threshold"`

	// ResetTimeout Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`

	// HalfOpenMaxCalls 半开状态下允许的最大并发试探数
	HalfOpenMaxCalls int `json:"half_open_max_calls" yaml:"half_open_max_calls"`

	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(provider string, from, to State) `json:"-" yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ErrCircuitOpen 熔断打开时返回（包裹在 types.Error 中）
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Provider 带熔断的 llm.Provider
type Provider struct {
	inner  llm.Provider
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	halfOpenInFlight int
}

// Wrap 用熔断器包装 p
func Wrap(p llm.Provider, cfg Config, logger *zap.Logger) *Provider {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		inner:  p,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("provider", p.Name())),
		now:    time.Now,
		state:  StateClosed,
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

// Unwrap returns the wrapped provider.
func (p *Provider) Unwrap() llm.Provider { return p.inner }

// State 当前状态
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reset 手动恢复
func (p *Provider) Reset() {
	p.mu.Lock()
	from := p.state
	p.state = StateClosed
	p.failures = 0
	p.halfOpenInFlight = 0
	p.mu.Unlock()
	p.notify(from, StateClosed)
}

// Call 熔断打开时直接返回 SERVICE_UNAVAILABLE（可重试）。
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := p.before(); err != nil {
		return nil, err
	}
	resp, err := p.inner.Call(ctx, req)
	p.after(ctx, err)
	return resp, err
}

func (p *Provider) before() error {
	p.mu.Lock()
	var transition bool
	switch p.state {
	case StateOpen:
		if p.now().Sub(p.lastFailure) <= p.cfg.ResetTimeout {
			p.mu.Unlock()
			return p.openError()
		}
		p.state = StateHalfOpen
		p.halfOpenInFlight = 0
		transition = true
		fallthrough
	case StateHalfOpen:
		if p.halfOpenInFlight >= p.cfg.HalfOpenMaxCalls {
			p.mu.Unlock()
			return p.openError()
		}
		p.halfOpenInFlight++
	}
	p.mu.Unlock()

	if transition {
		p.logger.Info("circuit half-open, probing provider")
		p.notify(StateOpen, StateHalfOpen)
	}
	return nil
}

func (p *Provider) after(ctx context.Context, err error) {
	// 取消与客户端错误不计入失败
	if err != nil && (ctx.Err() != nil || types.IsCancelled(err) || !countsAsFailure(err)) {
		p.mu.Lock()
		if p.state == StateHalfOpen && p.halfOpenInFlight > 0 {
			p.halfOpenInFlight--
		}
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	from := p.state
	if err == nil {
		p.failures = 0
		p.state = StateClosed
		p.halfOpenInFlight = 0
	} else {
		p.failures++
		p.lastFailure = p.now()
		if p.state == StateHalfOpen || p.failures >= p.cfg.Threshold {
			p.state = StateOpen
			p.halfOpenInFlight = 0
		}
	}
	to := p.state
	failures := p.failures
	p.mu.Unlock()

	if from != to {
		p.logger.Warn("circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Int("failures", failures))
		p.notify(from, to)
	}
}

func (p *Provider) notify(from, to State) {
	if p.cfg.OnStateChange != nil && from != to {
		p.cfg.OnStateChange(p.inner.Name(), from, to)
	}
}

func (p *Provider) openError() error {
	return types.NewError(types.ErrServiceUnavailable,
		fmt.Sprintf("provider %s temporarily unavailable", p.inner.Name())).
		WithCause(ErrCircuitOpen).
		WithProvider(p.inner.Name()).
		WithHTTPStatus(503).
		WithRetryable(true)
}

// countsAsFailure 只有可重试的服务端错误或非结构化错误计入熔断
func countsAsFailure(err error) bool {
	e, ok := types.AsError(err)
	if !ok {
		return true
	}
	return e.Retryable
}
