package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SentinelIdentity is the identity used when the server runs single-tenant.
const SentinelIdentity = "default_user"

// TokenPrefix marks server-generated MCP tokens.
const TokenPrefix = "mcp_"

// HashToken returns the hex SHA-256 digest of token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares a and b without short-circuiting on the first
// differing byte. A length mismatch is a mismatch.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// GenerateToken returns a new random MCP token of the form mcp_<32 hex>.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate MCP token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(buf), nil
}

// FallbackIdentity derives a stable identity from the token when no email
// could be obtained from the provider.
func FallbackIdentity(token string) string {
	return "user_" + HashToken(token)[:8]
}
