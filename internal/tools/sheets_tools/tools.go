package sheets_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/sheetsproxy/internal/logging"
	"github.com/teemow/sheetsproxy/internal/server"
	"github.com/teemow/sheetsproxy/internal/sheets"
	"github.com/teemow/sheetsproxy/internal/tools/common"
)

// RegisterSheetsTools registers one tool per spreadsheet operation.
func RegisterSheetsTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if s == nil || sc == nil {
		return fmt.Errorf("mcp server and server context are required")
	}
	for _, op := range sheets.Operations() {
		if readOnly && !op.ReadOnly {
			continue
		}
		s.AddTool(NewTool(op), common.InstrumentedToolHandler(op.Name, sc, handler(sc, op)))
	}
	return nil
}

// NewTool builds the MCP tool definition for op.
func NewTool(op *sheets.Operation) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(op.Description),
		mcp.WithReadOnlyHintAnnotation(op.ReadOnly),
		mcp.WithDestructiveHintAnnotation(!op.ReadOnly),
		mcp.WithOpenWorldHintAnnotation(true),
	}
	for _, p := range op.Params {
		opts = append(opts, paramOption(p))
	}
	return mcp.NewTool(op.Name, opts...)
}

func paramOption(p sheets.Param) mcp.ToolOption {
	props := []mcp.PropertyOption{mcp.Description(p.Description)}
	if p.Required {
		props = append(props, mcp.Required())
	}
	if len(p.Enum) > 0 {
		props = append(props, mcp.Enum(p.Enum...))
	}

	switch p.Type {
	case sheets.TypeBoolean:
		return mcp.WithBoolean(p.Name, props...)
	case sheets.TypeArray:
		if p.Items != nil {
			props = append(props, mcp.Items(p.Items))
		}
		return mcp.WithArray(p.Name, props...)
	case sheets.TypeObject:
		if p.Properties != nil {
			props = append(props, mcp.Properties(p.Properties))
		}
		return mcp.WithObject(p.Name, props...)
	default:
		return mcp.WithString(p.Name, props...)
	}
}

func handler(sc *server.ServerContext, op *sheets.Operation) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := sc.RunOperation(ctx, op, sheets.Args(request.GetArguments()))
		if err != nil {
			sc.Logger().Debug("tool call failed", logging.Tool(op.Name), logging.Err(err))
			return common.ErrorResult(err), nil
		}
		return common.JSONResult(result)
	}
}
