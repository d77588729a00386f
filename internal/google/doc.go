// Package google holds the Google OAuth client plumbing: client
// configuration, the authorization URL, code exchange, the userinfo lookup,
// and HTTP clients that carry an access token.
package google
