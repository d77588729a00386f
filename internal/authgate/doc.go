// Package authgate authenticates inbound requests by their bearer token.
//
// The gate runs in one of three modes chosen at construction: multi-tenant
// (tokens resolve to identities through an identity.Resolver), single-tenant
// with an expected token, and single-tenant without one. The last mode
// rejects every request in strict deployments and lets requests through
// with a warning otherwise.
//
// Allowed requests carry their identity in the context (IdentityFrom) and in
// the X-User-Id header, which the gate always overwrites. Only
// TrustedUserIDMiddleware, mounted on an internal listener, reads that header
// back.
package authgate
