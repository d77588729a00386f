package credentials

import (
	"context"
	"sync"
)

// MemoryStore is the single-tenant backend. It holds one credential slot and
// ignores the identity argument, so every caller shares the same credential.
// Contents are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	slot *Credential
}

// NewMemoryStore creates an empty single-slot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context, _ string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.slot == nil || m.slot.Revoked {
		return nil, ErrNotFound
	}
	return m.slot.Clone(), nil
}

func (m *MemoryStore) Store(_ context.Context, _ string, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = c.Clone()
	m.slot.Revoked = false
	return nil
}

func (m *MemoryStore) Update(_ context.Context, _ string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil || m.slot.Revoked {
		return nil
	}
	u.Apply(m.slot)
	return nil
}

// Revoke clears the slot.
func (m *MemoryStore) Revoke(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
