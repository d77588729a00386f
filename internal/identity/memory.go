package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryBindingStore keeps bindings in process memory. It backs tests and
// the Redis-less development setup.
type MemoryBindingStore struct {
	mu       sync.RWMutex
	byUserID map[string]*Binding
	now      func() time.Time
}

// NewMemoryBindingStore creates an empty store.
func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{
		byUserID: make(map[string]*Binding),
		now:      time.Now,
	}
}

func (m *MemoryBindingStore) FindActiveByHash(_ context.Context, hash string) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.byUserID {
		if b.Active && b.TokenHash == hash {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpsertBinding keys on UserID and moves the hash away from any other user.
func (m *MemoryBindingStore) UpsertBinding(_ context.Context, b Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	for id, other := range m.byUserID {
		if id != b.UserID && other.TokenHash == b.TokenHash {
			other.TokenHash = ""
			other.Active = false
			other.UpdatedAt = now
		}
	}

	existing, ok := m.byUserID[b.UserID]
	if !ok {
		b.CreatedAt = now
		b.UpdatedAt = now
		b.Active = true
		m.byUserID[b.UserID] = &b
		return nil
	}
	existing.TokenHash = b.TokenHash
	existing.Email = b.Email
	existing.Active = true
	existing.UpdatedAt = now
	return nil
}

func (m *MemoryBindingStore) DeactivateByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byUserID {
		if b.TokenHash == hash {
			b.Active = false
			b.UpdatedAt = m.now()
		}
	}
	return nil
}

func (m *MemoryBindingStore) FindByEmail(_ context.Context, email string) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.byUserID {
		if b.Active && strings.EqualFold(b.Email, email) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

var _ BindingStore = (*MemoryBindingStore)(nil)
