package instrumentation

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

const (
	testIdentity    = "jane@example.com"
	testTool        = "getValuesFromRange"
	testSpreadsheet = "1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms"
)

func attrMap(attrs []slog.Attr) map[string]slog.Attr {
	out := make(map[string]slog.Attr, len(attrs))
	for _, a := range attrs {
		out[a.Key] = a
	}
	return out
}

func TestToolInvocation_Builder(t *testing.T) {
	ti := NewToolInvocation(testTool).
		WithIdentity(testIdentity).
		WithTransport(TransportREST).
		WithTarget(testSpreadsheet, "Sheet1!A1:B2")

	if ti.StartTime.IsZero() {
		t.Error("StartTime should be set")
	}
	if ti.Identity != testIdentity || ti.Transport != TransportREST {
		t.Errorf("identity/transport = %q/%q", ti.Identity, ti.Transport)
	}
	if ti.SpreadsheetID != testSpreadsheet || ti.Range != "Sheet1!A1:B2" {
		t.Errorf("target = %q/%q", ti.SpreadsheetID, ti.Range)
	}
	if ti.UserDomain() != "example.com" {
		t.Errorf("UserDomain() = %q", ti.UserDomain())
	}
}

func TestToolInvocation_Complete(t *testing.T) {
	ti := NewToolInvocation(testTool)
	ti.StartTime = time.Now().Add(-time.Second)

	ti.CompleteWithError(errors.New("upstream 500"))
	if ti.Success || ti.Status() != StatusError || ti.Error != "upstream 500" {
		t.Errorf("failed invocation = %+v", ti)
	}
	if ti.Duration < time.Second {
		t.Errorf("Duration = %v, want >= 1s", ti.Duration)
	}

	ok := NewToolInvocation(testTool).CompleteSuccess()
	if !ok.Success || ok.Status() != StatusSuccess || ok.Error != "" {
		t.Errorf("successful invocation = %+v", ok)
	}
}

func TestToolInvocation_LogAttrs_HashesIdentity(t *testing.T) {
	ti := NewToolInvocation(testTool).
		WithIdentity(testIdentity).
		WithTransport(TransportMCP).
		CompleteSuccess()

	m := attrMap(ti.LogAttrs())
	if _, ok := m["user"]; ok {
		t.Error("LogAttrs must not carry the raw identity")
	}
	hash := m["user_hash"].Value.String()
	if !strings.HasPrefix(hash, "user:") || strings.Contains(hash, "jane") {
		t.Errorf("user_hash = %q", hash)
	}
	if m["transport"].Value.String() != TransportMCP {
		t.Errorf("transport = %q", m["transport"].Value.String())
	}
	if _, ok := m["spreadsheet_id"]; ok {
		t.Error("spreadsheet_id should be omitted when empty")
	}
}

func TestToolInvocation_LogAuditAttrs(t *testing.T) {
	ti := NewToolInvocation(testTool).
		WithIdentity(testIdentity).
		WithTarget(testSpreadsheet, "A1").
		CompleteSuccess()
	ti.SpanID = "00f067aa0ba902b7"

	m := attrMap(ti.LogAuditAttrs())
	if m["user"].Value.String() != testIdentity {
		t.Errorf("user = %q", m["user"].Value.String())
	}
	if m["spreadsheet_id"].Value.String() != testSpreadsheet {
		t.Errorf("spreadsheet_id = %q", m["spreadsheet_id"].Value.String())
	}
	if m["span_id"].Value.String() != "00f067aa0ba902b7" {
		t.Errorf("span_id = %q", m["span_id"].Value.String())
	}
}

func TestAuditLogger_LogToolInvocation(t *testing.T) {
	tests := []struct {
		name      string
		config    AuditLoggingConfig
		success   bool
		wantEmpty bool
		wantMsg   string
		wantLevel string
		wantRaw   bool
	}{
		{name: "success hashed", config: AuditLoggingConfig{Enabled: true}, success: true, wantMsg: "tool_executed", wantLevel: "INFO"},
		{name: "failure warns", config: AuditLoggingConfig{Enabled: true}, success: false, wantMsg: "tool_failed", wantLevel: "WARN"},
		{name: "pii included", config: AuditLoggingConfig{Enabled: true, IncludePII: true}, success: true, wantMsg: "tool_executed", wantLevel: "INFO", wantRaw: true},
		{name: "disabled", config: AuditLoggingConfig{Enabled: false}, success: true, wantEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			al := NewAuditLoggerWithConfig(logger, tt.config)

			ti := NewToolInvocation(testTool).WithIdentity(testIdentity)
			if tt.success {
				ti.CompleteSuccess()
			} else {
				ti.CompleteWithError(errors.New("boom"))
			}
			al.LogToolInvocation(ti)

			if tt.wantEmpty {
				if buf.Len() != 0 {
					t.Errorf("expected no output, got %s", buf.String())
				}
				return
			}

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("invalid log line %q: %v", buf.String(), err)
			}
			if entry["msg"] != tt.wantMsg || entry["level"] != tt.wantLevel {
				t.Errorf("msg/level = %v/%v", entry["msg"], entry["level"])
			}
			if entry["component"] != "audit" {
				t.Errorf("component = %v", entry["component"])
			}
			_, hasRaw := entry["user"]
			if hasRaw != tt.wantRaw {
				t.Errorf("raw identity present = %v, want %v", hasRaw, tt.wantRaw)
			}
		})
	}
}

func TestAuditLogger_Nil(t *testing.T) {
	var al *AuditLogger
	al.LogToolInvocation(NewToolInvocation(testTool).CompleteSuccess())
}
