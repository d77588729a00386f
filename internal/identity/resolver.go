package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no active binding matches.
var ErrNotFound = errors.New("identity: binding not found")

// Binding ties a token hash to a user identity.
type Binding struct {
	UserID    string
	TokenHash string
	Email     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BindingStore persists bindings. Implementations must keep at most one
// active binding per token hash.
type BindingStore interface {
	FindActiveByHash(ctx context.Context, hash string) (*Binding, error)
	UpsertBinding(ctx context.Context, b Binding) error
	DeactivateByHash(ctx context.Context, hash string) error
	FindByEmail(ctx context.Context, email string) (*Binding, error)
}

// Resolver turns bearer tokens into identities.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
	Bind(ctx context.Context, token, identity, email string) error
	Unbind(ctx context.Context, token string) error
	// MultiTenant reports whether identities come from a binding store.
	MultiTenant() bool
}

type storeResolver struct {
	store BindingStore
}

// NewResolver returns the multi-tenant resolver backed by store.
func NewResolver(store BindingStore) Resolver {
	return &storeResolver{store: store}
}

func (r *storeResolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNotFound
	}
	b, err := r.store.FindActiveByHash(ctx, HashToken(token))
	if err != nil {
		return "", err
	}
	if b == nil || !b.Active {
		return "", ErrNotFound
	}
	return b.UserID, nil
}

// Bind creates or reactivates the binding for token. The last write wins.
func (r *storeResolver) Bind(ctx context.Context, token, identity, email string) error {
	if token == "" || identity == "" {
		return fmt.Errorf("identity: token and identity are required")
	}
	err := r.store.UpsertBinding(ctx, Binding{
		UserID:    identity,
		TokenHash: HashToken(token),
		Email:     email,
		Active:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to bind token: %w", err)
	}
	return nil
}

func (r *storeResolver) Unbind(ctx context.Context, token string) error {
	if err := r.store.DeactivateByHash(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("failed to unbind token: %w", err)
	}
	return nil
}

func (r *storeResolver) MultiTenant() bool { return true }

// EmailLookup is implemented by resolvers that can find a binding by the
// email it was registered with.
type EmailLookup interface {
	FindByEmail(ctx context.Context, email string) (*Binding, error)
}

func (r *storeResolver) FindByEmail(ctx context.Context, email string) (*Binding, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return r.store.FindByEmail(ctx, email)
}

type singleTenantResolver struct{}

// NewSingleTenantResolver returns a resolver that maps every token to
// SentinelIdentity and never touches storage.
func NewSingleTenantResolver() Resolver {
	return singleTenantResolver{}
}

func (singleTenantResolver) Resolve(context.Context, string) (string, error) {
	return SentinelIdentity, nil
}

func (singleTenantResolver) Bind(context.Context, string, string, string) error { return nil }

func (singleTenantResolver) Unbind(context.Context, string) error { return nil }

func (singleTenantResolver) MultiTenant() bool { return false }
