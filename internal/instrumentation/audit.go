package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/sheetsproxy/internal/logging"
)

// ToolInvocation is one audited call to a spreadsheet operation, from
// either the REST surface or an MCP tool.
//
// Identity is the resolved caller (an email, a user_<hash> id or
// default_user) and may be PII.
type ToolInvocation struct {
	Tool      string
	Identity  string
	Transport string // TransportREST or TransportMCP

	SpreadsheetID string
	Range         string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// UserDomain returns the identity's email domain, or "unknown".
func (ti *ToolInvocation) UserDomain() string {
	return ExtractUserDomain(ti.Identity)
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns attributes with the identity hashed.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		logging.UserHash(ti.Identity),
		slog.String("user_domain", ti.UserDomain()),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	return ti.appendOptional(attrs)
}

// LogAuditAttrs returns attributes including the raw identity.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.String("user", ti.Identity),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	attrs = ti.appendOptional(attrs)
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	return attrs
}

func (ti *ToolInvocation) appendOptional(attrs []slog.Attr) []slog.Attr {
	if ti.Transport != "" {
		attrs = append(attrs, slog.String("transport", ti.Transport))
	}
	if ti.SpreadsheetID != "" {
		attrs = append(attrs, slog.String("spreadsheet_id", ti.SpreadsheetID))
	}
	if ti.Range != "" {
		attrs = append(attrs, slog.String("range", ti.Range))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

// NewToolInvocation starts timing a tool invocation.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithIdentity sets the resolved caller identity.
func (ti *ToolInvocation) WithIdentity(identity string) *ToolInvocation {
	ti.Identity = identity
	return ti
}

// WithTransport sets which surface the call arrived on.
func (ti *ToolInvocation) WithTransport(transport string) *ToolInvocation {
	ti.Transport = transport
	return ti
}

// WithTarget sets the spreadsheet and range the call touches.
func (ti *ToolInvocation) WithTarget(spreadsheetID, rng string) *ToolInvocation {
	ti.SpreadsheetID = spreadsheetID
	ti.Range = rng
	return ti
}

// WithSpanContext copies trace and span IDs from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ti.TraceID = span.SpanContext().TraceID().String()
		ti.SpanID = span.SpanContext().SpanID().String()
	}
	return ti
}

// Complete stops the clock and records the outcome.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation as failed with the given error.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// AuditLogger writes one structured line per tool invocation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an enabled AuditLogger that hashes identities.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates an AuditLogger from config.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String(logging.KeyComponent, "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation logs ti at INFO on success and WARN on failure.
// A nil AuditLogger is a no-op.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled || ti == nil {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ti.LogAuditAttrs()
	} else {
		attrs = ti.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}
}
