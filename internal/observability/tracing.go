package observability

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Tracing owns a TracerProvider scoped to this CoreHandle, never the
// otel global (spec.md §9). With no OTLP endpoint configured it runs
// with no span processor, so spans are created and discarded rather
// than exported — a no-op tracer without pulling in an exporter
// dependency the embedding application hasn't asked for.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracing builds a Tracing instance for serviceName. Callers that do
// want export can register a processor via RegisterProcessor before any
// spans are recorded.
func NewTracing(ctx context.Context, serviceName string) (*Tracing, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	return &Tracing{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// RegisterProcessor attaches a span processor (e.g. a batch exporter) to
// the owned provider. Optional — the core works fully without one.
func (t *Tracing) RegisterProcessor(p sdktrace.SpanProcessor) {
	t.provider.RegisterSpanProcessor(p)
}

// StartSpan starts a span on this instance's tracer, never the global one.
func (t *Tracing) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

// Shutdown flushes and stops the owned TracerProvider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if err := t.provider.ForceFlush(ctx); err != nil {
		return err
	}
	return t.provider.Shutdown(ctx)
}
