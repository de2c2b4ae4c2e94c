// Package ledger implements the append-only trust ledger: a per-artifact
// hash-chained event log that every other governance component writes to.
//
// Events for one artifact form a singly linked chain: each event's PrevHash
// is the ContentHash of its predecessor (nil for the first event). A broken
// link signals tampering or a missed write; Chain and Verify report the
// violation and never repair it.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrChainViolation is returned by Chain and Verify when an artifact's
// events do not form an intact hash chain.
var ErrChainViolation = errors.New("ledger chain integrity violation")

// DefaultEventLimit bounds Events queries when the caller passes limit <= 0.
const DefaultEventLimit = 50

// Ledger is the append-only trust ledger consumed by the governance core.
type Ledger interface {
	// Append canonicalizes payload, hashes it, threads PrevHash from the
	// artifact's latest event, and persists the new event. The read-tail +
	// insert sequence is serialized per artifactID so concurrent appends
	// can never fork the chain.
	Append(ctx context.Context, artifactType ArtifactType, artifactID, action string, payload any) (*Event, error)

	// Events returns up to limit events for the artifact, most recent first.
	Events(ctx context.Context, artifactID string, limit int) ([]*Event, error)

	// Chain returns the artifact's events in creation order after verifying
	// chain integrity. A broken link yields ErrChainViolation.
	Chain(ctx context.Context, artifactID string) ([]*Event, error)

	// Verify walks the artifact's chain and reports the first broken link.
	Verify(ctx context.Context, artifactID string) error
}

// verifyChain checks the hash-chain linkage of events ordered by creation.
// The first event must have a nil PrevHash; each later event's PrevHash must
// equal its predecessor's ContentHash.
func verifyChain(events []*Event) error {
	for i, ev := range events {
		if i == 0 {
			if ev.PrevHash != nil {
				return fmt.Errorf("%w: first event %s has non-nil prev_hash", ErrChainViolation, ev.ID)
			}
			continue
		}
		prev := events[i-1]
		if ev.PrevHash == nil || *ev.PrevHash != prev.ContentHash {
			return fmt.Errorf("%w: broken link at index %d (event %s)", ErrChainViolation, i, ev.ID)
		}
	}
	return nil
}
