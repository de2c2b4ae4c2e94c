package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArtifactType discriminates the governed artifact a ledger event refers to.
// It is a closed set; every component of the core dispatches on it.
type ArtifactType string

const (
	ArtifactRoleAgent        ArtifactType = "ROLE_AGENT"
	ArtifactMCPPolicy        ArtifactType = "MCP_POLICY"
	ArtifactAIRecommendation ArtifactType = "AI_RECOMMENDATION"
	ArtifactANSEntry         ArtifactType = "ANS_ENTRY"
	ArtifactPolicyBundle     ArtifactType = "POLICY_BUNDLE"
	ArtifactGatewayToken     ArtifactType = "GATEWAY_TOKEN"
	ArtifactEnforcementCall  ArtifactType = "ENFORCEMENT_CALL"
)

// Valid reports whether t is one of the known artifact types.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactRoleAgent, ArtifactMCPPolicy, ArtifactAIRecommendation,
		ArtifactANSEntry, ArtifactPolicyBundle, ArtifactGatewayToken,
		ArtifactEnforcementCall:
		return true
	}
	return false
}

// Event is a single immutable record in an artifact's hash chain.
// PrevHash is nil for the first event of an artifact; for every later event
// it equals the ContentHash of its immediate predecessor.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	ArtifactType ArtifactType    `json:"artifact_type"`
	ArtifactID   string          `json:"artifact_id"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	ContentHash  string          `json:"content_hash"`
	PrevHash     *string         `json:"prev_hash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Canonicalize serializes payload with stable key ordering at every nesting
// level, so semantically identical payloads always hash to the same bytes.
// Go marshals map keys in sorted order, so a marshal → unmarshal-to-any →
// re-marshal round trip yields the canonical form.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("reparse payload: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canonical, nil
}

// ContentHash returns the hex-encoded SHA-256 of the canonical payload bytes.
func ContentHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
