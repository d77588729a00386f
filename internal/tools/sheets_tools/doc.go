// Package sheets_tools exposes the spreadsheet operations as MCP tools.
//
// Tool names, descriptions and input schemas come from the operation
// registry in package sheets, so the MCP surface and the REST surface
// accept the same arguments. Write operations are not registered in
// read-only mode.
package sheets_tools
