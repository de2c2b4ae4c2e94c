package bundle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by the store implementations.
var (
	ErrNotFound          = errors.New("policy bundle not found")
	ErrInvalidTransition = errors.New("invalid bundle status transition")
	ErrNoActiveBundle    = errors.New("organization has no active bundle")
)

// Store is the persistence contract for policy bundles. Version assignment
// and activation are the two operations that need per-organization atomicity;
// both implementations guarantee it.
type Store interface {
	// Create persists a DRAFT bundle, assigning the organization's next
	// monotonic version. Versions are never reused, even for drafts that
	// are later discarded.
	Create(ctx context.Context, b *Bundle) error
	Get(ctx context.Context, id uuid.UUID) (*Bundle, error)

	// Publish transitions DRAFT → PUBLISHED, recording the signature.
	Publish(ctx context.Context, id uuid.UUID, signature, signerID string) (*Bundle, error)

	// Activate transitions PUBLISHED → ACTIVE and, atomically, retires the
	// organization's previous ACTIVE bundle. The store never leaves zero or
	// two ACTIVE bundles for one organization.
	Activate(ctx context.Context, id uuid.UUID) (*Bundle, error)

	// Retire transitions ACTIVE or PUBLISHED → RETIRED.
	Retire(ctx context.Context, id uuid.UUID) (*Bundle, error)

	// ActiveForOrg returns the organization's ACTIVE bundle or ErrNoActiveBundle.
	ActiveForOrg(ctx context.Context, organizationID string) (*Bundle, error)

	// ListActive returns ACTIVE bundles for every organization, or just one
	// when organizationID is non-empty.
	ListActive(ctx context.Context, organizationID string) ([]*Bundle, error)
}

// MemoryStore is an in-memory, thread-safe Store implementation for tests
// and single-process deployments.
type MemoryStore struct {
	mu       sync.Mutex
	bundles  map[uuid.UUID]*Bundle
	versions map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles:  make(map[uuid.UUID]*Bundle),
		versions: make(map[string]int),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, b *Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.versions[b.OrganizationID]++
	b.Version = s.versions[b.OrganizationID]
	b.Status = StatusDraft
	b.CreatedAt = time.Now().UTC()
	cp := *b
	s.bundles[b.ID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// Publish implements Store.
func (s *MemoryStore) Publish(_ context.Context, id uuid.UUID, signature, signerID string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != StatusDraft {
		return nil, ErrInvalidTransition
	}
	now := time.Now().UTC()
	b.Status = StatusPublished
	b.Signature = signature
	b.SignerID = signerID
	b.PublishedAt = &now
	cp := *b
	return &cp, nil
}

// Activate implements Store. The mutex makes demote-then-promote atomic.
func (s *MemoryStore) Activate(_ context.Context, id uuid.UUID) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != StatusPublished {
		return nil, ErrInvalidTransition
	}
	now := time.Now().UTC()
	for _, other := range s.bundles {
		if other.OrganizationID == b.OrganizationID && other.Status == StatusActive {
			other.Status = StatusRetired
			other.RetiredAt = &now
		}
	}
	b.Status = StatusActive
	b.ActivatedAt = &now
	cp := *b
	return &cp, nil
}

// Retire implements Store.
func (s *MemoryStore) Retire(_ context.Context, id uuid.UUID) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != StatusActive && b.Status != StatusPublished {
		return nil, ErrInvalidTransition
	}
	now := time.Now().UTC()
	b.Status = StatusRetired
	b.RetiredAt = &now
	cp := *b
	return &cp, nil
}

// ActiveForOrg implements Store.
func (s *MemoryStore) ActiveForOrg(_ context.Context, organizationID string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bundles {
		if b.OrganizationID == organizationID && b.Status == StatusActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNoActiveBundle
}

// ListActive implements Store.
func (s *MemoryStore) ListActive(_ context.Context, organizationID string) ([]*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Bundle
	for _, b := range s.bundles {
		if b.Status != StatusActive {
			continue
		}
		if organizationID != "" && b.OrganizationID != organizationID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrganizationID < out[j].OrganizationID })
	return out, nil
}
