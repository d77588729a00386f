// Package tokens turns a resolved identity into a Google credential that is
// usable right now.
//
// Lifecycle.Authorize loads the identity's credential, seeds it from a
// Fallback when storage is empty, refreshes it when it is inside the expiry
// buffer and revokes it when a refresh fails. The returned LiveClient is
// good for one outbound call and must not be cached; every request calls
// Authorize again so concurrent refreshes and revocations are observed.
package tokens
