package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/taskflow/types"
)

// Router 将抽象请求路由到具体 provider。
//
// 未指定 provider 时按 SelectionPolicy 选择；调用可通过 ctx 或 Cancel(requestID) 取消，
// 取消后立即以 CANCELLED 失败返回。Router 自身不重试，重试由调度器或流水线负责。
// 相同请求 ID 的并发调用会合并为一次 provider 调用。
type Router struct {
	registry *ProviderRegistry
	policy   SelectionPolicy
	cache    ResponseCache
	counter  types.TokenCounter
	pricing  *CostCalculator
	costs    costTracker
	observer CallObserver
	otel     *otelInstruments
	logger   *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSelectionPolicy overrides the capability preferences.
func WithSelectionPolicy(p SelectionPolicy) RouterOption {
	return func(r *Router) { r.policy = p }
}

// WithResponseCache sets the response cache. nil disables caching.
func WithResponseCache(c ResponseCache) RouterOption {
	return func(r *Router) { r.cache = c }
}

// WithTokenCounter sets the counter used when a provider reports no usage.
func WithTokenCounter(c types.TokenCounter) RouterOption {
	return func(r *Router) { r.counter = c }
}

// WithCostCalculator overrides the price table. nil disables cost accounting.
func WithCostCalculator(c *CostCalculator) RouterOption {
	return func(r *Router) { r.pricing = c }
}

// WithCallObserver registers a call observer.
func WithCallObserver(o CallObserver) RouterOption {
	return func(r *Router) { r.observer = o }
}

// NewRouter creates a router over registry.
func NewRouter(registry *ProviderRegistry, logger *zap.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewProviderRegistry()
	}
	r := &Router{
		registry: registry,
		policy:   DefaultSelectionPolicy(),
		cache:    NewLocalCache(1000, 0),
		counter:  types.NewEstimateTokenizer(),
		pricing:  NewCostCalculator(),
		otel:     newOtelInstruments(),
		logger:   logger.With(zap.String("component", "router")),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the underlying provider registry.
func (r *Router) Registry() *ProviderRegistry { return r.registry }

// Execute 执行一次 provider 调用并返回归一化响应。
func (r *Router) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("request is nil")
	}
	call := *req
	if strings.TrimSpace(call.Prompt) == "" {
		return nil, types.NewInvalidRequestError("prompt is required")
	}
	if call.Capability == "" {
		call.Capability = CapabilityText
	}
	if !call.Capability.Valid() {
		return nil, types.NewInvalidRequestError(fmt.Sprintf("unknown capability %q", call.Capability))
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	provider, err := r.resolve(&call)
	if err != nil {
		return nil, err
	}
	call.Parameters = call.Parameters.withDefaults()

	ch := r.group.DoChan(call.ID, func() (any, error) {
		return r.call(ctx, provider, &call)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Response)
		return &out, nil
	case <-ctx.Done():
		return nil, contextError(ctx, call.Provider)
	}
}

// Cancel 取消一个进行中的请求。请求不存在（已完成或未开始）时返回 false。
func (r *Router) Cancel(requestID string) bool {
	r.mu.Lock()
	cancel, ok := r.inflight[requestID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// InFlight returns the number of provider calls currently running.
func (r *Router) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// CachedResponse returns a previously completed response by request id.
func (r *Router) CachedResponse(ctx context.Context, requestID string) (*Response, bool) {
	if r.cache == nil {
		return nil, false
	}
	resp, err := r.cache.Get(ctx, requestID)
	if err != nil {
		return nil, false
	}
	return resp, true
}

// CostSummary returns the accumulated usage and cost of successful calls.
func (r *Router) CostSummary() CostSummary {
	return r.costs.snapshot()
}

// ClearCache drops every cached response.
func (r *Router) ClearCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Clear(ctx)
}

func (r *Router) resolve(req *Request) (Provider, error) {
	if req.Provider != "" {
		p, ok := r.registry.Get(req.Provider)
		if !ok {
			return nil, types.NewError(types.ErrProviderUnavailable,
				fmt.Sprintf("provider %q is not registered", req.Provider)).
				WithProvider(req.Provider).
				WithHTTPStatus(503)
		}
		return p, nil
	}

	name, err := r.policy.Select(req.Capability, r.registry.Has)
	if err != nil {
		return nil, err
	}
	p, _ := r.registry.Get(name)
	req.Provider = name
	return p, nil
}

type callResult struct {
	resp *Response
	err  error
}

func (r *Router) call(parent context.Context, p Provider, req *Request) (*Response, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	r.track(req.ID, cancel)
	defer r.untrack(req.ID)

	name := req.Provider
	ctx = types.WithRequestID(ctx, req.ID)
	ctx, span := r.otel.start(ctx, req, name)
	defer span.End()

	start := time.Now()
	done := make(chan callResult, 1)
	go func() {
		resp, err := p.Call(ctx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	elapsed := time.Since(start)

	if res.err == nil && res.resp == nil {
		res.err = types.NewProviderError(name, "provider returned an empty response", 0)
	}
	if res.err != nil {
		err := normalizeError(ctx, name, res.err)
		status := "error"
		if types.IsCancelled(err) {
			status = "cancelled"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.otel.end(parent, name, status, elapsed, nil)
		if r.observer != nil {
			r.observer.ObserveProviderCall(name, req.Model, req.Capability, status, elapsed, nil)
		}
		r.logger.Warn("provider call failed",
			zap.String("request_id", req.ID),
			zap.String("provider", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	resp := r.normalize(req, name, res.resp)
	r.otel.end(parent, name, "success", elapsed, resp.Usage)
	if r.observer != nil {
		r.observer.ObserveProviderCall(name, resp.Model, req.Capability, "success", elapsed, resp.Usage)
	}
	if r.cache != nil {
		if err := r.cache.Set(parent, resp); err != nil {
			r.logger.Warn("cache response failed", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	r.logger.Debug("provider call completed",
		zap.String("request_id", req.ID),
		zap.String("provider", name),
		zap.String("model", resp.Model),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}

func (r *Router) normalize(req *Request, name string, raw *Response) *Response {
	resp := *raw
	resp.ID = req.ID
	resp.Provider = name
	resp.Capability = req.Capability
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}
	switch {
	case resp.Usage == nil && r.counter != nil:
		prompt := r.counter.CountTokens(req.Prompt)
		completion := r.counter.CountTokens(resp.Content)
		resp.Usage = &types.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	case resp.Usage != nil && resp.Usage.TotalTokens == 0:
		u := *resp.Usage
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		resp.Usage = &u
	}
	if resp.Usage != nil {
		if resp.Usage.Cost == 0 && r.pricing != nil {
			u := *resp.Usage
			u.Cost = r.pricing.Calculate(name, resp.Model, u.PromptTokens, u.CompletionTokens)
			resp.Usage = &u
		}
		r.costs.track(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.Cost)
	}
	return &resp
}

func (r *Router) track(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.inflight[id] = cancel
	r.mu.Unlock()
}

func (r *Router) untrack(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// normalizeError 统一错误形态：取消为 CANCELLED，超时为 UPSTREAM_TIMEOUT，其余为带 provider 的结构化错误。
func normalizeError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return contextError(ctx, provider)
	}
	if e, ok := types.AsError(err); ok {
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	}
	if errors.Is(err, context.Canceled) {
		return types.NewCancelledError("provider call cancelled", err).WithProvider(provider)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "provider call timed out").
			WithCause(err).WithProvider(provider).WithRetryable(true)
	}
	return types.NewProviderError(provider, err.Error(), 0).WithCause(err)
}

func contextError(ctx context.Context, provider string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "provider call timed out").
			WithCause(ctx.Err()).WithProvider(provider).WithRetryable(true)
	}
	return types.NewCancelledError("provider call cancelled", ctx.Err()).WithProvider(provider)
}
