// Package identity maps opaque MCP bearer tokens to user identities.
//
// Tokens are never persisted in plaintext: bindings are keyed by the SHA-256
// hash of the token. In single-tenant deployments every request resolves to
// SentinelIdentity.
package identity
