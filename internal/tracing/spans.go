package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartPipelineSpan creates a child span for a stage of the proxy pipeline
// (fingerprint, lookup, store, dialect translation).
func StartPipelineSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline."+stage,
		trace.WithAttributes(attribute.String("pipeline.stage", stage)),
	)
}

// StartUpstreamSpan creates a child span for the single upstream HTTP call.
func StartUpstreamSpan(ctx context.Context, url, dialect string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("upstream.dialect", dialect),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the upstream service can continue
// the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetRequestAttributes adds request-level attributes to the current span.
func SetRequestAttributes(ctx context.Context, model, dialect string, tokensInEstimate int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("request.model", model),
		attribute.String("request.dialect", dialect),
		attribute.Int("request.tokens_in_estimate", tokensInEstimate),
	)
}

// SetResponseAttributes adds response-level attributes to the current span.
func SetResponseAttributes(ctx context.Context, statusCode int, cacheHit bool, completionsServed int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("response.status_code", statusCode),
		attribute.Bool("response.cache_hit", cacheHit),
		attribute.Int("response.completions_served", completionsServed),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
