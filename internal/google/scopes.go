package google

// Scope URLs requested during authorization.
const (
	ScopeSpreadsheets  = "https://www.googleapis.com/auth/spreadsheets"
	ScopeUserInfoEmail = "https://www.googleapis.com/auth/userinfo.email"
)

// DefaultOAuthScopes are requested on every authorization. The email scope
// lets the callback key credentials by the user's Google address.
var DefaultOAuthScopes = []string{
	ScopeSpreadsheets,
	ScopeUserInfoEmail,
}
