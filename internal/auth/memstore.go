package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and single-node dev
// setups. A single mutex guards all maps; every method is one critical
// section, which gives the same per-account atomicity the SQL store gets
// from row locks.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	byEmail  map[string]string
	history  map[string][]PasswordHistoryEntry
	audit    []AuditEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		byEmail:  make(map[string]string),
		history:  make(map[string][]PasswordHistoryEntry),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account Account, history PasswordHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrEmailTaken
	}

	account.Email = email
	s.accounts[account.ID] = account
	s.byEmail[email] = account.ID
	s.history[account.ID] = []PasswordHistoryEntry{history}
	return nil
}

func (s *MemoryStore) AccountByEmail(ctx context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.accounts[id], nil
}

func (s *MemoryStore) AccountByID(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *MemoryStore) RecordFailedAttempt(ctx context.Context, id string, threshold int, window time.Duration, now time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}

	if account.LockoutEndsAt != nil {
		if now.Before(*account.LockoutEndsAt) {
			ends := *account.LockoutEndsAt
			return &ends, nil
		}
		// window elapsed, start counting fresh
		account.FailedAttempts = 0
		account.LockoutEndsAt = nil
	}

	account.FailedAttempts++
	var locked *time.Time
	if account.FailedAttempts >= threshold {
		ends := now.Add(window)
		account.LockoutEndsAt = &ends
		locked = &ends
	}
	account.UpdatedAt = now
	s.accounts[id] = account
	return locked, nil
}

func (s *MemoryStore) ResetLockout(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.FailedAttempts = 0
	account.LockoutEndsAt = nil
	s.accounts[id] = account
	return nil
}

func (s *MemoryStore) SetSessionToken(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.SessionToken = token
	s.accounts[id] = account
	return nil
}

func (s *MemoryStore) CommitPasswordChange(ctx context.Context, id, newHash string, depth int, now time.Time, sessionToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}

	account.PasswordHash = newHash
	changed := now
	account.LastPasswordChangedAt = &changed
	account.SessionToken = sessionToken
	account.UpdatedAt = now
	s.accounts[id] = account

	entries := append(s.history[id], PasswordHistoryEntry{
		ID:        uuid.NewString(),
		AccountID: id,
		Hash:      newHash,
		CreatedAt: now,
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > depth {
		entries = entries[:depth]
	}
	s.history[id] = entries
	return nil
}

func (s *MemoryStore) PasswordHistory(ctx context.Context, id string, limit int) ([]PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[id]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]PasswordHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) SetTwoFactor(ctx context.Context, id string, enabled bool, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.TwoFactorEnabled = enabled
	account.TwoFactorSecret = secret
	s.accounts[id] = account
	return nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.audit = append(s.audit, event)
	return nil
}

func (s *MemoryStore) RecentAudit(ctx context.Context, limit int) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AuditEvent, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}
