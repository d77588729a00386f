package instrumentation

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m, reader
}

// counterValue sums the data points of the named counter that carry every
// attribute in want.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, want ...attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if hasAll(dp.Attributes, want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func hasAll(set attribute.Set, want []attribute.KeyValue) bool {
	for _, kv := range want {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/sheets/{spreadsheetId}/values/{range}", 200, 100*time.Millisecond)
	m.RecordHTTPRequest(ctx, "GET", "/sheets/{spreadsheetId}/values/{range}", 401, 5*time.Millisecond)
	m.RecordHTTPRequest(ctx, "POST", "/mcp", 200, 50*time.Millisecond)

	if got := counterValue(t, reader, "http_requests_total", attribute.String("method", "GET")); got != 2 {
		t.Errorf("GET requests = %d, want 2", got)
	}
	if got := counterValue(t, reader, "http_requests_total", attribute.String("status", "401")); got != 1 {
		t.Errorf("401 requests = %d, want 1", got)
	}
}

func TestMetrics_RecordAuthDecision(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordAuthDecision(ctx, "ok", AuthResultAllowed)
	m.RecordAuthDecision(ctx, "not_authenticated", AuthResultDenied)
	m.RecordAuthDecision(ctx, "expired", AuthResultDenied)
	m.RecordAuthDecision(ctx, "unconfigured", AuthResultUnconfigured)

	if got := counterValue(t, reader, "oauth_auth_total", attribute.String("result", AuthResultDenied)); got != 2 {
		t.Errorf("denied = %d, want 2", got)
	}
	if got := counterValue(t, reader, "oauth_auth_total", attribute.String("state", "ok")); got != 1 {
		t.Errorf("ok = %d, want 1", got)
	}
}

func TestMetrics_RecordOAuthTokenRefresh(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordOAuthTokenRefresh(ctx, RefreshResultSuccess)
	m.RecordOAuthTokenRefresh(ctx, RefreshResultFailure)
	m.RecordOAuthTokenRefresh(ctx, RefreshResultFailure)

	if got := counterValue(t, reader, "oauth_token_refresh_total", attribute.String("result", RefreshResultFailure)); got != 2 {
		t.Errorf("failures = %d, want 2", got)
	}
}

func TestMetrics_RecordGoogleAPIOperation(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordGoogleAPIOperation(ctx, ServiceSheets, "getValuesFromRange", StatusSuccess, 200*time.Millisecond)
	m.RecordGoogleAPIOperation(ctx, ServiceSheets, "batchUpdate", StatusError, 500*time.Millisecond)

	if got := counterValue(t, reader, "google_api_operations_total",
		attribute.String("service", ServiceSheets),
		attribute.String("status", StatusError)); got != 1 {
		t.Errorf("sheets errors = %d, want 1", got)
	}
}

func TestMetrics_RecordCredentialOperation(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordCredentialOperation(ctx, "postgres", OperationLoad, StatusSuccess, time.Millisecond)
	m.RecordCredentialOperation(ctx, "postgres", OperationUpdate, StatusSuccess, time.Millisecond)
	m.RecordCredentialOperation(ctx, "redis", OperationLoad, StatusError, time.Millisecond)

	if got := counterValue(t, reader, "credential_store_operations_total", attribute.String("backend", "postgres")); got != 2 {
		t.Errorf("postgres ops = %d, want 2", got)
	}
}

func TestMetrics_RecordToolInvocation(t *testing.T) {
	tests := []struct {
		name       string
		detailed   bool
		wantDomain bool
	}{
		{name: "domain omitted by default", detailed: false, wantDomain: false},
		{name: "domain added with detailed labels", detailed: true, wantDomain: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t, tt.detailed)
			m.RecordToolInvocation(context.Background(), "getValuesFromRange", TransportMCP, StatusSuccess, "jane@example.com", time.Second)

			got := counterValue(t, reader, "mcp_tool_invocations_total", attribute.String("user_domain", "example.com"))
			if (got == 1) != tt.wantDomain {
				t.Errorf("user_domain points = %d, wantDomain %v", got, tt.wantDomain)
			}
			if total := counterValue(t, reader, "mcp_tool_invocations_total", attribute.String("transport", TransportMCP)); total != 1 {
				t.Errorf("invocations = %d, want 1", total)
			}
		})
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()

	var nilMetrics *Metrics
	zero := &Metrics{}

	for _, m := range []*Metrics{nilMetrics, zero} {
		m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
		m.RecordGoogleAPIOperation(ctx, ServiceSheets, "op", StatusSuccess, time.Millisecond)
		m.RecordAuthDecision(ctx, "ok", AuthResultAllowed)
		m.RecordOAuthTokenRefresh(ctx, RefreshResultSuccess)
		m.RecordCredentialOperation(ctx, "memory", OperationLoad, StatusSuccess, time.Millisecond)
		m.RecordToolInvocation(ctx, "tool", TransportREST, StatusSuccess, "", time.Millisecond)
	}
}

func TestMetrics_FromProvider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	if provider.Metrics() == nil {
		t.Fatal("expected metrics to be non-nil")
	}
	provider.Metrics().RecordAuthDecision(ctx, "ok", AuthResultAllowed)
}
