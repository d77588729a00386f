package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/teemow/sheetsproxy/internal/credentials"
)

// EnvAccessToken holds a pre-obtained credential, as JSON or a bare access token.
const EnvAccessToken = "GOOGLE_ACCESS_TOKEN"

// ErrNoFallback means no fallback credential is configured.
var ErrNoFallback = errors.New("tokens: no fallback credential")

// Fallback supplies a credential for an identity whose storage is empty.
type Fallback interface {
	Credential(ctx context.Context) (*credentials.Credential, error)
}

// StaticFallback reads a credential from a fixed value and, when that is
// empty, from a token file. Both are optional.
type StaticFallback struct {
	Value     string
	TokenFile string
}

// NewEnvFallback returns a StaticFallback reading GOOGLE_ACCESS_TOKEN and
// then tokenFile.
func NewEnvFallback(tokenFile string) *StaticFallback {
	return &StaticFallback{
		Value:     os.Getenv(EnvAccessToken),
		TokenFile: tokenFile,
	}
}

// Credential returns the configured credential or ErrNoFallback.
func (f *StaticFallback) Credential(_ context.Context) (*credentials.Credential, error) {
	if f == nil {
		return nil, ErrNoFallback
	}
	if strings.TrimSpace(f.Value) != "" {
		return ParseCredential(f.Value)
	}
	if f.TokenFile == "" {
		return nil, ErrNoFallback
	}

	data, err := os.ReadFile(f.TokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoFallback
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var c credentials.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if c.AccessToken == "" {
		return nil, fmt.Errorf("token file has no access_token")
	}
	return normalize(&c), nil
}

// ParseCredential accepts a JSON credential or a bare access token string.
// Anything that is not a JSON object is taken as the access token itself.
func ParseCredential(raw string) (*credentials.Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoFallback
	}

	var c credentials.Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return &credentials.Credential{AccessToken: raw, TokenType: "Bearer"}, nil
	}
	if c.AccessToken == "" {
		return nil, fmt.Errorf("fallback credential has no access_token")
	}
	return normalize(&c), nil
}

func normalize(c *credentials.Credential) *credentials.Credential {
	if c.TokenType == "" {
		c.TokenType = "Bearer"
	}
	c.Revoked = false
	return c
}
