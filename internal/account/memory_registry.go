package account

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-memory Registry for tests and local development.
type MemoryRegistry struct {
	mu      sync.RWMutex
	storage map[string]Account
}

// NewMemoryRegistry constructs an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{storage: make(map[string]Account)}
}

// Put stores or replaces an account.
func (r *MemoryRegistry) Put(account Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[account.ID] = account
}

// SetStatus changes the status of a stored account.
func (r *MemoryRegistry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.storage[id]
	if !ok {
		return ErrNotFound
	}
	account.Status = status
	r.storage[id] = account
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.storage[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

func (r *MemoryRegistry) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.storage[id]
	return ok, nil
}

func (r *MemoryRegistry) GetByOwner(_ context.Context, ownerID string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found Account
		ok    bool
	)
	for _, account := range r.storage {
		if account.OwnerID != ownerID {
			continue
		}
		if !ok || account.CreatedAt.Before(found.CreatedAt) {
			found, ok = account, true
		}
	}
	if !ok {
		return Account{}, ErrNotFound
	}
	return found, nil
}
