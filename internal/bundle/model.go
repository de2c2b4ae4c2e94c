package bundle

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a policy bundle.
// DRAFT → PUBLISHED → ACTIVE → RETIRED, strictly one-way.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusActive    Status = "ACTIVE"
	StatusRetired   Status = "RETIRED"
)

// Bundle is a versioned, content-addressed compiled policy artifact.
// At most one bundle per organization is ACTIVE at any time.
type Bundle struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Version        int        `json:"version"`
	BundleHash     string     `json:"bundle_hash"`
	StorageRef     string     `json:"storage_ref"`
	BundleSize     int        `json:"bundle_size"`
	Status         Status     `json:"status"`
	Signature      string     `json:"signature,omitempty"`
	SignerID       string     `json:"signer_id,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	RetiredAt      *time.Time `json:"retired_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Manifest records what went into a compiled bundle.
type Manifest struct {
	Artifacts  []string  `json:"artifacts"`
	Policies   []string  `json:"policies"`
	Controls   []string  `json:"controls"`
	CompiledAt time.Time `json:"compiled_at"`
	Compiler   string    `json:"compiler"`
}

// ActiveBundle is the listing row consumed by the external
// policy-evaluation engine.
type ActiveBundle struct {
	URL       string     `json:"url"`
	Size      int        `json:"size"`
	Hash      string     `json:"hash"`
	Version   int        `json:"version"`
	Activated *time.Time `json:"activated"`
}
