// Package instrumentation wires OpenTelemetry metrics and tracing for the
// proxy and provides the audit log for spreadsheet operations.
//
// Metrics:
//   - http_requests_total, http_request_duration_seconds
//   - google_api_operations_total, google_api_operation_duration_seconds
//   - oauth_auth_total (auth gate decisions by state and result)
//   - oauth_token_refresh_total
//   - credential_store_operations_total, credential_store_operation_duration_seconds
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds (REST and MCP)
//
// Spans are named tool.<name> for tool calls and google.<service>.<op> for
// outbound API calls.
//
// Environment:
//   - INSTRUMENTATION_ENABLED (default true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default 0.1)
//   - OTEL_SERVICE_NAME (default sheetsproxy)
//   - METRICS_DETAILED_LABELS, AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII
//
// A nil or zero *Metrics records nothing, so components can take one
// unconditionally.
package instrumentation
