package httpsession

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local session store for tests and single-node
// dev. Expiry is computed lazily on Get; Save refreshes the deadline.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]memoryEntry

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      idleTimeout,
		sessions: make(map[string]memoryEntry),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Now().After(entry.expiresAt) {
		delete(s.sessions, id)
		return Session{}, ErrNotFound
	}
	return entry.session, nil
}

func (s *MemoryStore) Save(ctx context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = memoryEntry{
		session:   session,
		expiresAt: s.Now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}
