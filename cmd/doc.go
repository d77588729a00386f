// Package cmd implements the command-line interface for sheetsproxy.
//
// This package provides the following commands:
//   - serve: Start the proxy over stdio, streamable HTTP or plain REST
//   - migrate: Apply, roll back or list the PostgreSQL schema migrations
//   - token: Generate MCP tokens and credential encryption keys
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// A .env file in the working directory is loaded before flags are parsed.
// Flags always take precedence over environment variables.
package cmd
