package approval

import (
	"time"

	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/ledger"
)

// Status is the lifecycle state of an approval request.
// APPROVED and REJECTED are terminal.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Facet is a review dimension that must independently reach quorum.
type Facet string

const (
	FacetSecurity     Facet = "security"
	FacetCompliance   Facet = "compliance"
	FacetPolicy       Facet = "policy"
	FacetRisk         Facet = "risk"
	FacetLegal        Facet = "legal"
	FacetPrivacy      Facet = "privacy"
	FacetArchitecture Facet = "architecture"
)

// Valid reports whether f is one of the known review facets.
func (f Facet) Valid() bool {
	switch f {
	case FacetSecurity, FacetCompliance, FacetPolicy, FacetRisk,
		FacetLegal, FacetPrivacy, FacetArchitecture:
		return true
	}
	return false
}

// VoteValue is a reviewer's position on one facet.
type VoteValue string

const (
	VoteApprove VoteValue = "approve"
	VoteReject  VoteValue = "reject"
	VoteAbstain VoteValue = "abstain"
)

// Valid reports whether v is a recognised vote value.
func (v VoteValue) Valid() bool {
	return v == VoteApprove || v == VoteReject || v == VoteAbstain
}

// Priority orders pending requests for reviewers.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is a recognised priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Request is a multi-party approval decision in progress for one artifact.
type Request struct {
	ID             uuid.UUID           `json:"id"`
	OrganizationID string              `json:"organization_id"`
	ArtifactID     string              `json:"artifact_id"`
	ArtifactType   ledger.ArtifactType `json:"artifact_type"`
	LoaLevel       int                 `json:"loa_level"`
	Status         Status              `json:"status"`
	RequiredFacets []Facet             `json:"required_facets"`
	Priority       Priority            `json:"priority"`
	RequestorID    string              `json:"requestor_id,omitempty"`
	RequestReason  string              `json:"request_reason,omitempty"`
	DueDate        *time.Time          `json:"due_date,omitempty"`
	Reviewers      []string            `json:"reviewers,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Vote is one reviewer's position on one facet of a request.
// A reviewer may revise their vote for a facet; the row is unique per
// (request, facet, reviewer).
type Vote struct {
	ID         uuid.UUID `json:"id"`
	RequestID  uuid.UUID `json:"approval_request_id"`
	Facet      Facet     `json:"facet"`
	ReviewerID string    `json:"reviewer_id"`
	Vote       VoteValue `json:"vote"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LoaPolicy is per-organization, per-artifact-type quorum configuration,
// owned by organization administrators and read-only here.
type LoaPolicy struct {
	OrganizationID string              `json:"organization_id"`
	ArtifactType   ledger.ArtifactType `json:"artifact_type"`
	MinReviewers   int                 `json:"min_reviewers"`
	RequiredFacets []Facet             `json:"required_facets"`
}

// Tally is the recomputed vote count for one facet.
type Tally struct {
	Approve   int  `json:"approve"`
	Reject    int  `json:"reject"`
	Abstain   int  `json:"abstain"`
	Satisfied bool `json:"satisfied"`
}

// Stats summarises an organization's approval requests by status.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}
