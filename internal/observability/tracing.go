// Package observability wires OpenTelemetry tracing for indexing runs.
//
// Tracing is off unless an OTLP endpoint is configured; the helpers below
// then produce spans on the global no-op provider, so callers never need to
// check whether tracing is enabled.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans produced by this module
const TracerName = "github.com/dshills/codeindex-mcp"

// TracingConfig configures the OTLP exporter
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317".
	// Empty disables export.
	Endpoint string

	// SampleRate in [0,1]; values >= 1 sample everything
	SampleRate float64
}

// TracerProvider owns the SDK provider when export is enabled
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global tracer provider exporting to cfg.Endpoint.
// With no endpoint the global no-op provider is left in place.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if cfg.Endpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "codeindex"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes pending spans
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer for this provider
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartRunSpan starts a span covering one full indexing run
func StartRunSpan(ctx context.Context, repositoryID string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "index.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("codeindex.repository_id", repositoryID)),
	)
}

// StartScanSpan starts a span for a directory scan
func StartScanSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "index.scan",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("codeindex.root", root)),
	)
}

// StartBatchSpan starts a span for one embed+upsert batch
func StartBatchSpan(ctx context.Context, blocks int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "index.batch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("codeindex.batch.blocks", blocks)),
	)
}

// StartEmbeddingSpan starts a client span for an embedding API call
func StartEmbeddingSpan(ctx context.Context, provider, model string, items int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "embedding.create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("embedding.provider", provider),
			attribute.String("embedding.model", model),
			attribute.Int("embedding.items", items),
		),
	)
}

// RecordRunResult annotates a run span with its counters
func RecordRunResult(span trace.Span, found, indexed, batchErrors int) {
	span.SetAttributes(
		attribute.Int("codeindex.blocks_found", found),
		attribute.Int("codeindex.blocks_indexed", indexed),
		attribute.Int("codeindex.batch_errors", batchErrors),
	)
}

// RecordUsage annotates an embedding span with token usage
func RecordUsage(span trace.Span, promptTokens, totalTokens int) {
	span.SetAttributes(
		attribute.Int("embedding.prompt_tokens", promptTokens),
		attribute.Int("embedding.total_tokens", totalTokens),
	)
}

// RecordError marks the span failed
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
