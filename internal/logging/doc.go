// Package logging provides structured logging utilities for sheetsproxy.
//
// All logging goes through log/slog. This package fixes attribute names and
// provides helpers that keep credentials and identities out of log output.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithComponent(slog.Default(), "tokens")
//	logger.Info("token refreshed",
//	    logging.UserHash(identity),
//	    logging.Status(logging.StatusSuccess))
//
// # Security Considerations
//
//   - Identities (emails) are hashed before they are logged
//   - OAuth and MCP tokens are never logged, only their length
package logging
