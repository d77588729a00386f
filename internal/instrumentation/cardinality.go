package instrumentation

import "strings"

// ExtractUserDomain reduces an identity to its email domain for use as a
// metric label. Non-email identities (default_user, user_<hash>) map to
// "unknown".
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("default_user")      // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}

	return "unknown"
}

// Credential store operation names.
const (
	OperationLoad   = "load"
	OperationStore  = "store"
	OperationUpdate = "update"
	OperationRevoke = "revoke"
)
