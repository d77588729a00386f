package credentials

import (
	"context"
	"errors"
	"time"
)

// ExpiryBuffer is how long before the provider's expiry a credential is
// already treated as expired.
const ExpiryBuffer = 5 * time.Minute

// ErrNotFound is returned by Load when the identity has no active credential.
var ErrNotFound = errors.New("credentials: no token found")

// Credential is the Google OAuth material held for one identity.
// ExpiryDate is epoch milliseconds.
type Credential struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	TokenType             string `json:"token_type"`
	Scope                 string `json:"scope,omitempty"`
	ExpiryDate            *int64 `json:"expiry_date,omitempty"`
	RefreshTokenExpiresIn *int64 `json:"refresh_token_expires_in,omitempty"`
	Revoked               bool   `json:"revoked,omitempty"`
}

// Update carries the fields to change on an existing credential.
// A nil field leaves the stored value untouched.
type Update struct {
	AccessToken           *string
	RefreshToken          *string
	TokenType             *string
	Scope                 *string
	ExpiryDate            *int64
	RefreshTokenExpiresIn *int64
}

// Apply merges u into c in place.
func (u Update) Apply(c *Credential) {
	if u.AccessToken != nil {
		c.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		c.RefreshToken = *u.RefreshToken
	}
	if u.TokenType != nil {
		c.TokenType = *u.TokenType
	}
	if u.Scope != nil {
		c.Scope = *u.Scope
	}
	if u.ExpiryDate != nil {
		v := *u.ExpiryDate
		c.ExpiryDate = &v
	}
	if u.RefreshTokenExpiresIn != nil {
		v := *u.RefreshTokenExpiresIn
		c.RefreshTokenExpiresIn = &v
	}
}

// Store persists credentials keyed by identity.
//
// Implementations must never return one identity's credential for another
// identity, and Revoke must be a soft operation that is safe to repeat.
type Store interface {
	// Load returns the active credential or ErrNotFound.
	Load(ctx context.Context, identity string) (*Credential, error)
	// Store upserts the credential and marks it active.
	Store(ctx context.Context, identity string, c *Credential) error
	// Update merges fields into the active credential. Missing records are a no-op.
	Update(ctx context.Context, identity string, u Update) error
	// Revoke marks the credential unusable.
	Revoke(ctx context.Context, identity string) error
}

// IsExpired reports whether c must be refreshed before use at time now.
// A credential without an expiry never expires.
func IsExpired(c *Credential, now time.Time) bool {
	if c == nil || c.ExpiryDate == nil {
		return false
	}
	expiry := time.UnixMilli(*c.ExpiryDate)
	return !now.Before(expiry.Add(-ExpiryBuffer))
}

// ExpiryTime returns the expiry as a time.Time, or the zero time when unset.
func (c *Credential) ExpiryTime() time.Time {
	if c == nil || c.ExpiryDate == nil {
		return time.Time{}
	}
	return time.UnixMilli(*c.ExpiryDate)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.ExpiryDate != nil {
		v := *c.ExpiryDate
		out.ExpiryDate = &v
	}
	if c.RefreshTokenExpiresIn != nil {
		v := *c.RefreshTokenExpiresIn
		out.RefreshTokenExpiresIn = &v
	}
	return &out
}

// Millis converts t to the epoch-millisecond form used by ExpiryDate.
func Millis(t time.Time) *int64 {
	v := t.UnixMilli()
	return &v
}
