package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/taskflow/types"
)

const instrumentationName = "github.com/BaSui01/taskflow/llm"

// CallObserver 接收每次 provider 调用的结果，用于 Prometheus 等外部指标。
type CallObserver interface {
	ObserveProviderCall(provider, model string, capability Capability, status string, duration time.Duration, usage *types.TokenUsage)
}

// otelInstruments OTel 埋点
type otelInstruments struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
	active   metric.Int64UpDownCounter
}

func newOtelInstruments() *otelInstruments {
	meter := otel.Meter(instrumentationName)
	inst := &otelInstruments{tracer: otel.Tracer(instrumentationName)}

	// 创建失败时退回 noop，埋点不能影响调用路径
	var err error
	if inst.calls, err = meter.Int64Counter("taskflow.provider.calls",
		metric.WithDescription("Total number of provider calls"),
		metric.WithUnit("{call}")); err != nil {
		inst.calls = nil
	}
	if inst.duration, err = meter.Float64Histogram("taskflow.provider.duration",
		metric.WithDescription("Provider call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60)); err != nil {
		inst.duration = nil
	}
	if inst.tokens, err = meter.Int64Counter("taskflow.provider.tokens",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		inst.tokens = nil
	}
	if inst.active, err = meter.Int64UpDownCounter("taskflow.provider.active",
		metric.WithDescription("Number of in-flight provider calls"),
		metric.WithUnit("{call}")); err != nil {
		inst.active = nil
	}
	return inst
}

func (i *otelInstruments) start(ctx context.Context, req *Request, provider string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("capability", string(req.Capability)),
		attribute.String("request.id", req.ID),
	}
	if i.active != nil {
		i.active.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
	}
	return i.tracer.Start(ctx, "provider.call", trace.WithAttributes(attrs...))
}

func (i *otelInstruments) end(ctx context.Context, provider, status string, elapsed time.Duration, usage *types.TokenUsage) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	if i.active != nil {
		i.active.Add(ctx, -1, metric.WithAttributes(attribute.String("provider", provider)))
	}
	if i.calls != nil {
		i.calls.Add(ctx, 1, attrs)
	}
	if i.duration != nil {
		i.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if i.tokens != nil && usage != nil && usage.TotalTokens > 0 {
		i.tokens.Add(ctx, int64(usage.TotalTokens), metric.WithAttributes(attribute.String("provider", provider)))
	}
}
