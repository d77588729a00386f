package common

import (
	"context"

	"github.com/teemow/sheetsproxy/internal/server"
	"github.com/teemow/sheetsproxy/internal/sheets"
)

// CallerIdentity returns the identity a tool call runs as, or "" when the
// caller could not be identified.
func CallerIdentity(ctx context.Context, sc *server.ServerContext) string {
	id, err := sc.IdentityFor(ctx)
	if err != nil {
		return ""
	}
	return id
}

// TargetFromArgs extracts the spreadsheet and range a call touches.
func TargetFromArgs(args map[string]any) (spreadsheetID, rng string) {
	a := sheets.Args(args)
	return a.String(sheets.ParamSpreadsheetID), a.String(sheets.ParamRange)
}
