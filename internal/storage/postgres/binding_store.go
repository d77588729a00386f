package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/teemow/sheetsproxy/internal/identity"
)

// BindingStore persists MCP token bindings in mcp_users.
type BindingStore struct {
	db DatabaseIface
}

// NewBindingStore returns a binding store on db.
func NewBindingStore(db DatabaseIface) *BindingStore {
	return &BindingStore{db: db}
}

const bindingColumns = `user_id, mcp_token_hash, COALESCE(email, ''), is_active, created_at, updated_at`

const findActiveByHashSQL = `SELECT ` + bindingColumns + `
FROM mcp_users
WHERE mcp_token_hash = $1 AND is_active = true`

func (s *BindingStore) FindActiveByHash(ctx context.Context, hash string) (*identity.Binding, error) {
	return s.findOne(ctx, findActiveByHashSQL, hash)
}

const findByEmailSQL = `SELECT ` + bindingColumns + `
FROM mcp_users
WHERE email = $1 AND is_active = true
ORDER BY updated_at DESC
LIMIT 1`

func (s *BindingStore) FindByEmail(ctx context.Context, email string) (*identity.Binding, error) {
	return s.findOne(ctx, findByEmailSQL, email)
}

func (s *BindingStore) findOne(ctx context.Context, query string, arg string) (*identity.Binding, error) {
	var (
		b    identity.Binding
		hash *string
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(&b.UserID, &hash, &b.Email, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query binding: %w", err)
	}
	if hash != nil {
		b.TokenHash = *hash
	}
	return &b, nil
}

const releaseHashSQL = `UPDATE mcp_users SET mcp_token_hash = NULL, is_active = false, updated_at = NOW()
WHERE mcp_token_hash = $1 AND user_id <> $2`

const upsertBindingSQL = `INSERT INTO mcp_users (user_id, mcp_token_hash, email, is_active, created_at, updated_at)
VALUES ($1, $2, $3, true, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE SET
    mcp_token_hash = EXCLUDED.mcp_token_hash,
    email = EXCLUDED.email,
    is_active = true,
    updated_at = NOW()`

// UpsertBinding moves the hash to b.UserID inside one transaction so the
// unique constraint on mcp_token_hash never trips.
func (s *BindingStore) UpsertBinding(ctx context.Context, b identity.Binding) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, releaseHashSQL, b.TokenHash, b.UserID); err != nil {
		return fmt.Errorf("failed to release token hash: %w", err)
	}
	if _, err = tx.Exec(ctx, upsertBindingSQL, b.UserID, b.TokenHash, nullable(b.Email)); err != nil {
		return fmt.Errorf("failed to upsert binding: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit binding: %w", err)
	}
	return nil
}

const deactivateByHashSQL = `UPDATE mcp_users SET is_active = false, updated_at = NOW() WHERE mcp_token_hash = $1`

func (s *BindingStore) DeactivateByHash(ctx context.Context, hash string) error {
	if _, err := s.db.Exec(ctx, deactivateByHashSQL, hash); err != nil {
		return fmt.Errorf("failed to deactivate binding: %w", err)
	}
	return nil
}

var _ identity.BindingStore = (*BindingStore)(nil)
