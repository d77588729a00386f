package common

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/sheetsproxy/internal/instrumentation"
	"github.com/teemow/sheetsproxy/internal/logging"
	"github.com/teemow/sheetsproxy/internal/server"
)

// ToolHandler is the mcp-go tool handler signature.
type ToolHandler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// InstrumentedToolHandler wraps a tool handler with a span, metrics and
// audit logging.
//
// Usage:
//
//	s.AddTool(tool, common.InstrumentedToolHandler("getValuesFromRange", sc, handler))
func InstrumentedToolHandler(toolName string, sc *server.ServerContext, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		who := CallerIdentity(ctx, sc)
		args := request.GetArguments()
		spreadsheetID, rng := TargetFromArgs(args)

		attrs := instrumentation.NewSpanAttributeBuilder().
			WithTransport(instrumentation.TransportMCP).
			WithSpreadsheet(spreadsheetID, rng).
			WithUserHash(logging.AnonymizeIdentity(who)).
			Build()
		ctx, span := instrumentation.StartToolSpan(ctx, toolName, attrs...)
		defer span.End()

		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName).
			WithTransport(instrumentation.TransportMCP).
			WithIdentity(who).
			WithTarget(spreadsheetID, rng).
			WithSpanContext(ctx)

		result, err := handler(ctx, request)

		status := instrumentation.StatusSuccess
		switch {
		case err != nil:
			status = instrumentation.StatusError
			invocation.CompleteWithError(err)
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			status = instrumentation.StatusError
			resultErr := errors.New(ResultText(result))
			invocation.CompleteWithError(resultErr)
			instrumentation.SetSpanError(span, resultErr)
		default:
			invocation.CompleteSuccess()
			instrumentation.SetSpanSuccess(span)
		}

		sc.Metrics().RecordToolInvocation(ctx, toolName, instrumentation.TransportMCP, status, who, time.Since(start))
		sc.AuditLogger().LogToolInvocation(invocation)

		return result, err
	}
}
