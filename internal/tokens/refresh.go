package tokens

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// RefreshTimeout bounds a single call to the token endpoint.
const RefreshTimeout = 30 * time.Second

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher refreshes against an oauth2.Config's token endpoint.
type OAuthRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewOAuthRefresher returns a Refresher whose HTTP client times out after
// RefreshTimeout.
func NewOAuthRefresher(config *oauth2.Config) *OAuthRefresher {
	return &OAuthRefresher{
		config:     config,
		httpClient: &http.Client{Timeout: RefreshTimeout},
	}
}

// Refresh performs a refresh_token grant. The returned token keeps the
// caller's refresh token unless the provider issued a new one.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.config == nil {
		return nil, fmt.Errorf("oauth client is not configured")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	// A past expiry forces the token source to hit the endpoint.
	stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := r.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh failed: %w", err)
	}
	return tok, nil
}
