package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by the store implementations.
var (
	ErrNotFound          = errors.New("gateway token not found")
	ErrWrongOrganization = errors.New("token does not belong to organization")
)

// Store is the persistence contract for gateway tokens.
type Store interface {
	Create(ctx context.Context, t *Token) error
	Get(ctx context.Context, id uuid.UUID) (*Token, error)

	// Revoke sets RevokedAt once. Revoking an already-revoked token is a
	// no-op; the bool reports whether this call performed the revocation.
	Revoke(ctx context.Context, id uuid.UUID, organizationID string) (*Token, bool, error)
}

// MemoryStore is an in-memory, thread-safe Store implementation for tests
// and single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[uuid.UUID]*Token
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[uuid.UUID]*Token)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(_ context.Context, id uuid.UUID, organizationID string) (*Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if t.OrganizationID != organizationID {
		return nil, false, ErrWrongOrganization
	}
	if t.RevokedAt != nil {
		cp := *t
		return &cp, false, nil
	}
	now := time.Now().UTC()
	t.RevokedAt = &now
	cp := *t
	return &cp, true, nil
}
