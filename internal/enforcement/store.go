package enforcement

import (
	"context"
	"sync"
)

// DefaultListLimit bounds ListByOrganization when the caller passes
// limit <= 0.
const DefaultListLimit = 50

// Store persists enforcement call telemetry.
type Store interface {
	Record(ctx context.Context, c *Call) error

	// ListByOrganization returns up to limit calls, most recent first.
	ListByOrganization(ctx context.Context, organizationID string, limit int) ([]*Call, error)
}

// MemoryStore is an in-memory, thread-safe Store implementation for tests
// and single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	calls map[string][]*Call
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string][]*Call)}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, c *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.calls[c.OrganizationID] = append(s.calls[c.OrganizationID], &cp)
	return nil
}

// ListByOrganization implements Store.
func (s *MemoryStore) ListByOrganization(_ context.Context, organizationID string, limit int) ([]*Call, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.calls[organizationID]
	out := make([]*Call, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}
