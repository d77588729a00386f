// Package sheets exposes the Google Sheets v4 operations the proxy serves.
//
// Each Operation carries its parameter schema, validates its arguments and
// runs against a *sheets.Service built for a single authorized call. The
// same registry backs the REST routes and the MCP tools.
package sheets
