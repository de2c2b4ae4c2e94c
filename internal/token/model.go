package token

import (
	"time"

	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/ledger"
)

// Token is the stored record of an issued gateway capability token.
// A token is valid iff RevokedAt is nil and the current time is before
// ExpiresAt. Revocation is permanent.
type Token struct {
	ID             uuid.UUID           `json:"id"`
	OrganizationID string              `json:"organization_id"`
	ArtifactID     string              `json:"artifact_id"`
	ArtifactType   ledger.ArtifactType `json:"artifact_type"`
	LoaLevel       int                 `json:"loa_level"`
	Scope          []string            `json:"scope"`
	BundleVersion  int                 `json:"bundle_version"`
	IssuedFor      string              `json:"issued_for,omitempty"`
	IssuerID       string              `json:"issuer_id"`
	IssuedAt       time.Time           `json:"issued_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
	RevokedAt      *time.Time          `json:"revoked_at,omitempty"`
}

// ValidAt reports whether the token is usable at the given instant.
func (t *Token) ValidAt(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Introspection is the result of verifying a presented token. Claims is
// populated only when the token record was located, regardless of validity,
// so callers can distinguish expired from unknown.
type Introspection struct {
	Valid  bool    `json:"valid"`
	Claims *Claims `json:"claims,omitempty"`
}

// Claims are the bound attributes a verifier applies its own authorization
// decision against.
type Claims struct {
	ArtifactID    string              `json:"artifact_id"`
	ArtifactType  ledger.ArtifactType `json:"artifact_type"`
	LoaLevel      int                 `json:"loa_level"`
	Scope         []string            `json:"scope"`
	BundleVersion int                 `json:"bundle_version"`
}
