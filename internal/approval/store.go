package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/ledger"
)

// Sentinel errors shared by the store implementations.
var (
	ErrRequestNotFound = errors.New("approval request not found")
	ErrPolicyNotFound  = errors.New("loa policy not found")
)

// Store is the persistence contract for approval requests, votes and LoA
// policies. Both MemoryStore and PostgresStore implement it.
type Store interface {
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)

	// UpdateRequestStatus writes the new status only while the stored row is
	// non-terminal. It reports false when a concurrent vote already drove the
	// request to APPROVED or REJECTED; the stored decision then stands.
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, status Status) (bool, error)
	ListByArtifact(ctx context.Context, artifactType ledger.ArtifactType, artifactID string) ([]*Request, error)
	CountPending(ctx context.Context, artifactType ledger.ArtifactType, artifactID string) (int, error)
	HasApproved(ctx context.Context, organizationID, artifactID string) (bool, error)

	// UpsertVote inserts the vote or replaces the existing row for the same
	// (request, facet, reviewer) key.
	UpsertVote(ctx context.Context, v *Vote) error
	VotesByRequest(ctx context.Context, requestID uuid.UUID) ([]*Vote, error)

	GetPolicy(ctx context.Context, organizationID string, artifactType ledger.ArtifactType) (*LoaPolicy, error)
	PutPolicy(ctx context.Context, p *LoaPolicy) error

	OrgStats(ctx context.Context, organizationID string) (*Stats, error)
}

// MemoryStore is an in-memory, thread-safe Store implementation for tests
// and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*Request
	votes    map[uuid.UUID][]*Vote
	policies map[string]*LoaPolicy
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[uuid.UUID]*Request),
		votes:    make(map[uuid.UUID][]*Vote),
		policies: make(map[string]*LoaPolicy),
	}
}

func policyKey(orgID string, t ledger.ArtifactType) string {
	return orgID + "|" + string(t)
}

// CreateRequest implements Store.
func (s *MemoryStore) CreateRequest(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

// GetRequest implements Store.
func (s *MemoryStore) GetRequest(_ context.Context, id uuid.UUID) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

// UpdateRequestStatus implements Store.
func (s *MemoryStore) UpdateRequestStatus(_ context.Context, id uuid.UUID, status Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return false, nil
	}
	req.Status = status
	req.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListByArtifact implements Store.
func (s *MemoryStore) ListByArtifact(_ context.Context, artifactType ledger.ArtifactType, artifactID string) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, req := range s.requests {
		if req.ArtifactType == artifactType && req.ArtifactID == artifactID {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountPending implements Store.
func (s *MemoryStore) CountPending(_ context.Context, artifactType ledger.ArtifactType, artifactID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, req := range s.requests {
		if req.ArtifactType == artifactType && req.ArtifactID == artifactID && req.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

// HasApproved implements Store.
func (s *MemoryStore) HasApproved(_ context.Context, organizationID, artifactID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.OrganizationID == organizationID && req.ArtifactID == artifactID && req.Status == StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

// UpsertVote implements Store.
func (s *MemoryStore) UpsertVote(_ context.Context, v *Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	votes := s.votes[v.RequestID]
	for _, existing := range votes {
		if existing.Facet == v.Facet && existing.ReviewerID == v.ReviewerID {
			existing.Vote = v.Vote
			existing.Comment = v.Comment
			existing.CreatedAt = time.Now().UTC()
			*v = *existing
			return nil
		}
	}
	v.ID = uuid.New()
	v.CreatedAt = time.Now().UTC()
	cp := *v
	s.votes[v.RequestID] = append(votes, &cp)
	return nil
}

// VotesByRequest implements Store.
func (s *MemoryStore) VotesByRequest(_ context.Context, requestID uuid.UUID) ([]*Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	votes := s.votes[requestID]
	out := make([]*Vote, len(votes))
	for i, v := range votes {
		cp := *v
		out[i] = &cp
	}
	return out, nil
}

// GetPolicy implements Store.
func (s *MemoryStore) GetPolicy(_ context.Context, organizationID string, artifactType ledger.ArtifactType) (*LoaPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyKey(organizationID, artifactType)]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

// PutPolicy implements Store.
func (s *MemoryStore) PutPolicy(_ context.Context, p *LoaPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.policies[policyKey(p.OrganizationID, p.ArtifactType)] = &cp
	return nil
}

// OrgStats implements Store.
func (s *MemoryStore) OrgStats(_ context.Context, organizationID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &Stats{}
	for _, req := range s.requests {
		if req.OrganizationID != organizationID {
			continue
		}
		stats.Total++
		switch req.Status {
		case StatusPending:
			stats.Pending++
		case StatusApproved:
			stats.Approved++
		case StatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}
