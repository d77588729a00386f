package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// DefaultSecretsFile is read when the client credentials are not in the
// environment.
const DefaultSecretsFile = "secrets.json"

// ErrNoClientConfig is returned when neither the environment nor the
// secrets file provide OAuth client credentials.
var ErrNoClientConfig = errors.New("either set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables, or provide secrets.json file")

// ClientConfig identifies the OAuth client registered with Google.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// secretsFile mirrors the JSON downloaded from the Google Cloud console.
type secretsFile struct {
	Web       *secretsBlock `json:"web"`
	Installed *secretsBlock `json:"installed"`
}

type secretsBlock struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

// LoadClientConfig resolves the OAuth client. Explicit values win; then the
// secrets file at path is consulted. defaultRedirect is used when neither
// source names a redirect URI.
func LoadClientConfig(clientID, clientSecret, redirectURL, path, defaultRedirect string) (ClientConfig, error) {
	if clientID != "" && clientSecret != "" {
		if redirectURL == "" {
			redirectURL = defaultRedirect
		}
		return ClientConfig{ClientID: clientID, ClientSecret: clientSecret, RedirectURL: redirectURL}, nil
	}

	if path == "" {
		path = DefaultSecretsFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("%w: %w", ErrNoClientConfig, err)
	}

	var sf secretsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return ClientConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	block := sf.Web
	if block == nil {
		block = sf.Installed
	}
	if block == nil || block.ClientID == "" {
		return ClientConfig{}, fmt.Errorf("%s has no web or installed client", path)
	}

	cfg := ClientConfig{ClientID: block.ClientID, ClientSecret: block.ClientSecret, RedirectURL: defaultRedirect}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	} else if len(block.RedirectURIs) > 0 {
		cfg.RedirectURL = block.RedirectURIs[0]
	}
	return cfg, nil
}
