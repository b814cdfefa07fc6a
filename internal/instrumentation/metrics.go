package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrTool      = "tool"
	attrAction    = "action"
	attrKind      = "kind"
	attrBackend   = "backend"
	attrDomain    = "user_domain"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// Metrics records inboxpilot metrics. The zero value and a nil *Metrics are
// valid no-op recorders.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	credentialRefreshTotal metric.Int64Counter

	dispatchTotal    metric.Int64Counter
	dispatchDuration metric.Float64Histogram

	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram

	conversationAppendsTotal metric.Int64Counter
	conversationSubscribers  metric.Int64UpDownCounter

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(durationBuckets...),
		)
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
		return h
	}

	m.httpRequestsTotal = counter("http_requests_total", "Total number of HTTP requests", "{request}")
	m.httpRequestDuration = histogram("http_request_duration_seconds", "HTTP request duration in seconds")
	m.credentialRefreshTotal = counter("credential_refresh_total", "Total number of credential refresh attempts", "{attempt}")
	m.dispatchTotal = counter("dispatch_total", "Total number of dispatched operations", "{operation}")
	m.dispatchDuration = histogram("dispatch_duration_seconds", "Dispatch duration in seconds, retries included")
	m.providerOperationsTotal = counter("provider_operations_total", "Total number of capability provider calls", "{call}")
	m.providerOperationDuration = histogram("provider_operation_duration_seconds", "Capability provider call duration in seconds")
	m.conversationAppendsTotal = counter("conversation_appends_total", "Total number of conversation appends", "{message}")
	m.toolInvocationsTotal = counter("mcp_tool_invocations_total", "Total number of MCP tool invocations", "{invocation}")
	m.toolDuration = histogram("mcp_tool_duration_seconds", "MCP tool execution duration in seconds")
	if err != nil {
		return nil, err
	}

	m.conversationSubscribers, err = meter.Int64UpDownCounter(
		"conversation_subscribers",
		metric.WithDescription("Number of live conversation subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation_subscribers gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCredentialRefresh records a credential refresh with one of the
// RefreshResult* values.
func (m *Metrics) RecordCredentialRefresh(ctx context.Context, result string) {
	if m == nil || m.credentialRefreshTotal == nil {
		return
	}
	m.credentialRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordDispatch records a completed dispatch. kind is "success" or the
// failure kind of the result.
func (m *Metrics) RecordDispatch(ctx context.Context, action, kind string, duration time.Duration) {
	m.RecordDispatchForUser(ctx, action, kind, "", duration)
}

// RecordDispatchForUser is RecordDispatch with the user's email domain added
// when detailed labels are enabled.
func (m *Metrics) RecordDispatchForUser(ctx context.Context, action, kind, userEmail string, duration time.Duration) {
	if m == nil || m.dispatchTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrAction, action),
		attribute.String(attrKind, kind),
	}
	if m.detailedLabels && userEmail != "" {
		attrs = append(attrs, attribute.String(attrDomain, ExtractUserDomain(userEmail)))
	}

	m.dispatchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordProviderOperation records a single capability provider call.
func (m *Metrics) RecordProviderOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.providerOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.providerOperationsTotal.Add(ctx, 1, attrs)
	m.providerOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordConversationAppend records an append against a store backend.
func (m *Metrics) RecordConversationAppend(ctx context.Context, backend, status string) {
	if m == nil || m.conversationAppendsTotal == nil {
		return
	}
	m.conversationAppendsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrBackend, backend),
		attribute.String(attrStatus, status),
	))
}

// AddConversationSubscribers adjusts the live subscriber gauge by delta.
func (m *Metrics) AddConversationSubscribers(ctx context.Context, delta int64) {
	if m == nil || m.conversationSubscribers == nil {
		return
	}
	m.conversationSubscribers.Add(ctx, delta)
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	)
	m.toolInvocationsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}
