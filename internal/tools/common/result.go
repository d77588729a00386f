package common

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/sheetsproxy/internal/apierror"
)

// JSONResult renders v as indented JSON text.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ErrorResult turns err into a tool error carrying only the sanitized
// message.
func ErrorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(apierror.Sanitize(err).Message)
}

// ResultText returns the concatenated text content of a result.
func ResultText(result *mcp.CallToolResult) string {
	var out string
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			out += text.Text
		}
	}
	return out
}
