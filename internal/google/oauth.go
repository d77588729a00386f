package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/sheetsproxy/internal/credentials"
)

// OAuthConfig builds the oauth2 configuration against Google's endpoints.
func OAuthConfig(cfg ClientConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       DefaultOAuthScopes,
	}
}

// AuthURL returns the consent URL. Offline access makes Google issue a
// refresh token.
func AuthURL(conf *oauth2.Config, state string) string {
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a credential.
func Exchange(ctx context.Context, conf *oauth2.Config, code string) (*credentials.Credential, error) {
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return CredentialFromToken(tok), nil
}

// CredentialFromToken converts an oauth2 token to the stored form.
func CredentialFromToken(tok *oauth2.Token) *credentials.Credential {
	c := &credentials.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if c.TokenType == "" {
		c.TokenType = "Bearer"
	}
	if !tok.Expiry.IsZero() {
		c.ExpiryDate = credentials.Millis(tok.Expiry)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		c.Scope = scope
	}
	if v, ok := tok.Extra("refresh_token_expires_in").(float64); ok {
		secs := int64(v)
		c.RefreshTokenExpiresIn = &secs
	}
	return c
}

// TokenFromCredential converts a stored credential to an oauth2 token.
func TokenFromCredential(c *credentials.Credential) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiryTime(),
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	return tok
}

// NewHTTPClient returns a client that authenticates with ts. It uses
// HTTP/1.1 because Google endpoints have produced HTTP/2 stream errors.
func NewHTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	client := oauth2.NewClient(ctx, ts)
	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			ForceAttemptHTTP2:   false,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	return client
}
