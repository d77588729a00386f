package authgate

import (
	"context"
	"net/http"
)

// HeaderUserID forwards the resolved identity across an internal hop.
const HeaderUserID = "X-User-Id"

type contextKey int

const (
	identityKey contextKey = iota
	bearerTokenKey
)

// WithIdentity returns ctx carrying identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the identity attached by the gate.
func IdentityFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(string)
	return id, ok && id != ""
}

// WithBearerToken returns ctx carrying the caller's bearer token.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey, token)
}

// BearerTokenFrom returns the bearer token the request authenticated with.
func BearerTokenFrom(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(bearerTokenKey).(string)
	return tok, ok && tok != ""
}

// TrustedUserIDMiddleware copies X-User-Id into the request context.
// Mount it only behind a listener that external clients cannot reach.
func TrustedUserIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(HeaderUserID); id != "" {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
