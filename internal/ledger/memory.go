package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu     sync.RWMutex
	chains map[string][]*Event
}

// NewMemory creates an empty MemoryLedger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{chains: make(map[string][]*Event)}
}

// Append implements Ledger. The single mutex serializes the read-tail +
// insert sequence for all artifacts, which is sufficient at in-process scale.
func (l *MemoryLedger) Append(_ context.Context, artifactType ArtifactType, artifactID, action string, payload any) (*Event, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	hash := ContentHash(canonical)

	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash *string
	if chain := l.chains[artifactID]; len(chain) > 0 {
		tail := chain[len(chain)-1].ContentHash
		prevHash = &tail
	}

	ev := &Event{
		ID:           uuid.New(),
		ArtifactType: artifactType,
		ArtifactID:   artifactID,
		Action:       action,
		Payload:      canonical,
		ContentHash:  hash,
		PrevHash:     prevHash,
		CreatedAt:    time.Now().UTC(),
	}
	l.chains[artifactID] = append(l.chains[artifactID], ev)
	return ev, nil
}

// Events implements Ledger.
func (l *MemoryLedger) Events(_ context.Context, artifactID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	chain := l.chains[artifactID]
	out := make([]*Event, 0, limit)
	for i := len(chain) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *chain[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Chain implements Ledger.
func (l *MemoryLedger) Chain(_ context.Context, artifactID string) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chain := l.chains[artifactID]
	out := make([]*Event, len(chain))
	for i, ev := range chain {
		cp := *ev
		out[i] = &cp
	}
	if err := verifyChain(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(ctx context.Context, artifactID string) error {
	_, err := l.Chain(ctx, artifactID)
	return err
}
