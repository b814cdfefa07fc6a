// Package instrumentation provides OpenTelemetry metrics, tracing, and audit
// logging for inboxpilot.
//
// # Metrics
//
// Server/HTTP:
//   - http_requests_total, http_request_duration_seconds
//
// Credentials:
//   - credential_refresh_total: token refresh attempts by result
//     (success, failure, coalesced, no_refresh_token)
//
// Dispatch:
//   - dispatch_total: dispatched operations by action and outcome kind
//   - dispatch_duration_seconds: end-to-end dispatch duration, retries included
//   - provider_operations_total, provider_operation_duration_seconds: single
//     provider calls by service and operation
//
// Conversations:
//   - conversation_appends_total: appends by backend and status
//   - conversation_subscribers: live subscribers across all conversations
//
// MCP:
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// # Tracing
//
// Spans are created for dispatches (dispatch.<action>), provider calls
// (provider.<service>.<operation>), credential refreshes (auth.refresh) and
// MCP tool invocations (tool.<name>).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: inboxpilot)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordDispatch(ctx, "send_email", "success", time.Since(start))
package instrumentation
