package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/teemow/sheetsproxy/internal/credentials"
)

// CredentialStore persists Google credentials in google_oauth_tokens.
// Every query is scoped by user_id.
type CredentialStore struct {
	db  DatabaseIface
	enc *credentials.Encryptor
}

// NewCredentialStore returns a store on db. enc may be nil.
func NewCredentialStore(db DatabaseIface, enc *credentials.Encryptor) *CredentialStore {
	return &CredentialStore{db: db, enc: enc}
}

const loadCredentialSQL = `SELECT access_token, refresh_token, token_type, scope, expiry_date, refresh_token_expires_in
FROM google_oauth_tokens
WHERE user_id = $1 AND is_revoked = false`

func (s *CredentialStore) Load(ctx context.Context, identity string) (*credentials.Credential, error) {
	var (
		c            credentials.Credential
		refreshToken *string
		scope        *string
	)
	err := s.db.QueryRow(ctx, loadCredentialSQL, identity).Scan(
		&c.AccessToken,
		&refreshToken,
		&c.TokenType,
		&scope,
		&c.ExpiryDate,
		&c.RefreshTokenExpiresIn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credentials.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if refreshToken != nil {
		c.RefreshToken = *refreshToken
	}
	if scope != nil {
		c.Scope = *scope
	}

	opened, err := s.enc.Open(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return opened, nil
}

const storeCredentialSQL = `INSERT INTO google_oauth_tokens
    (user_id, access_token, refresh_token, token_type, scope, expiry_date, refresh_token_expires_in, is_revoked, last_used_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    token_type = EXCLUDED.token_type,
    scope = EXCLUDED.scope,
    expiry_date = EXCLUDED.expiry_date,
    refresh_token_expires_in = EXCLUDED.refresh_token_expires_in,
    is_revoked = false,
    last_used_at = NOW(),
    updated_at = NOW()`

func (s *CredentialStore) Store(ctx context.Context, identity string, c *credentials.Credential) error {
	sealed, err := s.enc.Seal(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, storeCredentialSQL,
		identity,
		sealed.AccessToken,
		nullable(sealed.RefreshToken),
		sealed.TokenType,
		nullable(sealed.Scope),
		sealed.ExpiryDate,
		sealed.RefreshTokenExpiresIn,
	)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

const updateCredentialSQL = `UPDATE google_oauth_tokens SET
    access_token = COALESCE($2, access_token),
    refresh_token = COALESCE($3, refresh_token),
    token_type = COALESCE($4, token_type),
    scope = COALESCE($5, scope),
    expiry_date = COALESCE($6, expiry_date),
    refresh_token_expires_in = COALESCE($7, refresh_token_expires_in),
    last_used_at = NOW(),
    updated_at = NOW()
WHERE user_id = $1 AND is_revoked = false`

// Update merges u into the active row. A missing row affects nothing.
func (s *CredentialStore) Update(ctx context.Context, identity string, u credentials.Update) error {
	access, err := s.sealOptional(u.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.sealOptional(u.RefreshToken)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, updateCredentialSQL,
		identity,
		access,
		refresh,
		u.TokenType,
		u.Scope,
		u.ExpiryDate,
		u.RefreshTokenExpiresIn,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return nil
}

const revokeCredentialSQL = `UPDATE google_oauth_tokens SET is_revoked = true, updated_at = NOW() WHERE user_id = $1`

func (s *CredentialStore) Revoke(ctx context.Context, identity string) error {
	if _, err := s.db.Exec(ctx, revokeCredentialSQL, identity); err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) sealOptional(v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	sealed, err := s.enc.Encrypt(*v)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}
	return &sealed, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ credentials.Store = (*CredentialStore)(nil)
