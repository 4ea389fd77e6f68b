package profile

import (
	"context"
	"sync"
)

// MemoryStore keeps profiles in memory. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (m *MemoryStore) Get(_ context.Context, accountID string) (Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[accountID]
	return p, ok, nil
}

func (m *MemoryStore) Upsert(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.AccountID] = p
	return nil
}
