package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the inboxpilot package.
const TracerName = "github.com/teemow/inboxpilot"

// Span attribute keys.
const (
	SpanAttrTool         = "mcp.tool"
	SpanAttrAction       = "inboxpilot.action"
	SpanAttrConversation = "inboxpilot.conversation_id"
	SpanAttrAttempt      = "inboxpilot.attempt"
	SpanAttrOutcome      = "inboxpilot.outcome"
	SpanAttrService      = "provider.service"
	SpanAttrOperation    = "provider.operation"
	SpanAttrResourceID   = "provider.resource_id"
)

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "tool."+toolName,
		trace.WithAttributes(attribute.String(SpanAttrTool, toolName)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartDispatchSpan starts the span covering one dispatch, retries included.
func StartDispatchSpan(ctx context.Context, action string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "dispatch."+action,
		trace.WithAttributes(attribute.String(SpanAttrAction, action)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartProviderSpan starts a client span for a single provider call.
func StartProviderSpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	all = append(all,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	all = append(all, attrs...)

	return tracer().Start(ctx, "provider."+service+"."+operation,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the current span in context,
// or an empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
