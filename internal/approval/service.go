// Package approval implements the approval quorum engine: multi-party
// APPROVE/REJECT/ABSTAIN votes resolved against per-organization LoA
// policies, with every transition recorded in the trust ledger.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"go.uber.org/zap"
)

// Sentinel errors for the approval service.
var (
	ErrInvalidLoaLevel     = errors.New("loa level must be between 1 and 5")
	ErrInvalidArtifactType = errors.New("invalid artifact type")
	ErrInvalidFacet        = errors.New("invalid facet")
	ErrFacetNotRequired    = errors.New("facet is not required by this request")
	ErrInvalidVote         = errors.New("vote must be approve, reject or abstain")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrMissingOrganization = errors.New("organization id must not be empty")
	ErrMissingReviewer     = errors.New("reviewer id must not be empty")
)

// Ledger actions emitted by the engine.
const (
	actionRequestCreated = "APPROVAL_REQUEST_CREATED"
	actionVote           = "APPROVAL_VOTE"
	actionDecision       = "APPROVAL_DECISION"
)

// Service is the approval quorum engine.
type Service struct {
	store  Store
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewService creates an approval Service.
func NewService(store Store, lg ledger.Ledger, logger *zap.Logger) *Service {
	return &Service{store: store, ledger: lg, logger: logger}
}

// CreateInput is the payload for opening an approval request.
type CreateInput struct {
	OrganizationID string
	ArtifactID     string
	ArtifactType   ledger.ArtifactType
	LoaLevel       int
	RequiredFacets []Facet
	Priority       Priority
	RequestorID    string
	RequestReason  string
	DueDate        *time.Time
	Reviewers      []string
}

// CreateRequest validates the input, resolves the organization's LoA policy
// for defaults, persists a PENDING request, and records the creation in the
// trust ledger.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (*Request, error) {
	if in.OrganizationID == "" {
		return nil, ErrMissingOrganization
	}
	if in.LoaLevel < 1 || in.LoaLevel > 5 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLoaLevel, in.LoaLevel)
	}
	if !in.ArtifactType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidArtifactType, in.ArtifactType)
	}
	for _, f := range in.RequiredFacets {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFacet, f)
		}
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, in.Priority)
	}

	facets := in.RequiredFacets
	if len(facets) == 0 {
		// Fall back to the org policy's facet set, then to security-only.
		policy, err := s.store.GetPolicy(ctx, in.OrganizationID, in.ArtifactType)
		switch {
		case err == nil && len(policy.RequiredFacets) > 0:
			facets = policy.RequiredFacets
		case err != nil && !errors.Is(err, ErrPolicyNotFound):
			return nil, fmt.Errorf("resolve loa policy: %w", err)
		default:
			facets = []Facet{FacetSecurity}
		}
	}

	req := &Request{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		ArtifactID:     in.ArtifactID,
		ArtifactType:   in.ArtifactType,
		LoaLevel:       in.LoaLevel,
		Status:         StatusPending,
		RequiredFacets: facets,
		Priority:       in.Priority,
		RequestorID:    in.RequestorID,
		RequestReason:  in.RequestReason,
		DueDate:        in.DueDate,
		Reviewers:      in.Reviewers,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist approval request: %w", err)
	}

	if _, err := s.ledger.Append(ctx, req.ArtifactType, req.ArtifactID, actionRequestCreated, map[string]any{
		"approval_request_id": req.ID.String(),
		"loa_level":           req.LoaLevel,
		"required_facets":     facetsToStrings(req.RequiredFacets),
		"priority":            string(req.Priority),
		"requestor_id":        req.RequestorID,
	}); err != nil {
		return nil, fmt.Errorf("ledger append: %w", err)
	}

	s.logger.Info("approval request created",
		zap.String("id", req.ID.String()),
		zap.String("artifact_id", req.ArtifactID),
		zap.String("artifact_type", string(req.ArtifactType)),
		zap.Int("loa_level", req.LoaLevel),
	)
	return req, nil
}

// VoteInput is one reviewer's vote on one facet of a request.
type VoteInput struct {
	RequestID  uuid.UUID
	Facet      Facet
	ReviewerID string
	Vote       VoteValue
	Comment    string
}

// VoteResult reports the stored vote, the request after recomputation, and
// the per-facet tallies that produced the status. Decided is true only on
// the vote that moved the request to a terminal status.
type VoteResult struct {
	Vote    *Vote           `json:"vote"`
	Request *Request        `json:"request"`
	Tallies map[Facet]Tally `json:"facet_status"`
	Decided bool            `json:"decided"`
}

// SubmitVote upserts a reviewer's vote and recomputes the request status
// from the full vote set:
//
//  1. a reject on any required facet is a hard veto → REJECTED;
//  2. else every required facet with approvals >= quorum → APPROVED;
//  3. else a PENDING request moves to UNDER_REVIEW.
//
// Once the request is terminal, further votes are stored for audit but never
// change the status. Quorum is the LoA policy's min_reviewers, default 1.
func (s *Service) SubmitVote(ctx context.Context, in VoteInput) (*VoteResult, error) {
	if in.ReviewerID == "" {
		return nil, ErrMissingReviewer
	}
	if !in.Vote.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVote, in.Vote)
	}
	if !in.Facet.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFacet, in.Facet)
	}

	req, err := s.store.GetRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !facetRequired(req.RequiredFacets, in.Facet) {
		return nil, fmt.Errorf("%w: %q", ErrFacetNotRequired, in.Facet)
	}

	vote := &Vote{
		RequestID:  in.RequestID,
		Facet:      in.Facet,
		ReviewerID: in.ReviewerID,
		Vote:       in.Vote,
		Comment:    in.Comment,
	}
	if err := s.store.UpsertVote(ctx, vote); err != nil {
		return nil, fmt.Errorf("upsert vote: %w", err)
	}

	votes, err := s.store.VotesByRequest(ctx, in.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}

	quorum := s.quorum(ctx, req)
	tallies := tallyFacets(req.RequiredFacets, votes, quorum)

	wasTerminal := req.Status.Terminal()
	newStatus := deriveStatus(req.Status, tallies)

	if !wasTerminal && newStatus != req.Status {
		applied, err := s.store.UpdateRequestStatus(ctx, req.ID, newStatus)
		if err != nil {
			return nil, fmt.Errorf("update request status: %w", err)
		}
		if applied {
			req.Status = newStatus
		} else {
			// A concurrent vote drove the request terminal between our read
			// and this write; the stored decision stands.
			req, err = s.store.GetRequest(ctx, in.RequestID)
			if err != nil {
				return nil, fmt.Errorf("reload request: %w", err)
			}
			wasTerminal = true
		}
	}

	if _, err := s.ledger.Append(ctx, req.ArtifactType, req.ArtifactID, actionVote, map[string]any{
		"approval_request_id": req.ID.String(),
		"facet":               string(in.Facet),
		"vote":                string(in.Vote),
		"reviewer_id":         in.ReviewerID,
		"status":              string(req.Status),
	}); err != nil {
		return nil, fmt.Errorf("ledger append: %w", err)
	}

	decided := !wasTerminal && req.Status.Terminal()
	if decided {
		if _, err := s.ledger.Append(ctx, req.ArtifactType, req.ArtifactID, actionDecision, map[string]any{
			"approval_request_id": req.ID.String(),
			"decision":            string(req.Status),
			"loa_level":           req.LoaLevel,
		}); err != nil {
			return nil, fmt.Errorf("ledger append: %w", err)
		}
		s.logger.Info("approval decision reached",
			zap.String("id", req.ID.String()),
			zap.String("decision", string(req.Status)),
		)
	}

	return &VoteResult{Vote: vote, Request: req, Tallies: tallies, Decided: decided}, nil
}

// quorum resolves the approve threshold for the request from the org's LoA
// policy; absent or degenerate policies fall back to a quorum of one.
func (s *Service) quorum(ctx context.Context, req *Request) int {
	policy, err := s.store.GetPolicy(ctx, req.OrganizationID, req.ArtifactType)
	if err != nil || policy.MinReviewers < 1 {
		return 1
	}
	return policy.MinReviewers
}

// Get returns a request with its votes and current tallies.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Request, []*Vote, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	votes, err := s.store.VotesByRequest(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load votes: %w", err)
	}
	return req, votes, nil
}

// ListByArtifact returns all approval requests for one artifact, newest first.
func (s *Service) ListByArtifact(ctx context.Context, artifactType ledger.ArtifactType, artifactID string) ([]*Request, error) {
	if !artifactType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidArtifactType, artifactType)
	}
	return s.store.ListByArtifact(ctx, artifactType, artifactID)
}

// HasPendingApprovals reports whether the artifact has any PENDING request.
func (s *Service) HasPendingApprovals(ctx context.Context, artifactType ledger.ArtifactType, artifactID string) (bool, error) {
	n, err := s.store.CountPending(ctx, artifactType, artifactID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsArtifactApproved reports whether the artifact holds an APPROVED request
// in the organization. Bundle compilation and token issuance gate on this.
func (s *Service) IsArtifactApproved(ctx context.Context, organizationID, artifactID string) (bool, error) {
	return s.store.HasApproved(ctx, organizationID, artifactID)
}

// OrgStats summarises an organization's approval requests by status.
func (s *Service) OrgStats(ctx context.Context, organizationID string) (*Stats, error) {
	return s.store.OrgStats(ctx, organizationID)
}

func facetRequired(required []Facet, f Facet) bool {
	for _, r := range required {
		if r == f {
			return true
		}
	}
	return false
}

// tallyFacets recomputes per-facet counts from the full vote set. The
// recompute-on-every-vote approach tolerates out-of-order concurrent votes;
// a transiently stale status is corrected by the next vote's recomputation.
func tallyFacets(required []Facet, votes []*Vote, quorum int) map[Facet]Tally {
	tallies := make(map[Facet]Tally, len(required))
	for _, f := range required {
		tallies[f] = Tally{}
	}
	for _, v := range votes {
		t, ok := tallies[v.Facet]
		if !ok {
			continue
		}
		switch v.Vote {
		case VoteApprove:
			t.Approve++
		case VoteReject:
			t.Reject++
		case VoteAbstain:
			t.Abstain++
		}
		tallies[v.Facet] = t
	}
	for f, t := range tallies {
		t.Satisfied = t.Approve >= quorum
		tallies[f] = t
	}
	return tallies
}

// deriveStatus applies the transition rule. Reject is a hard veto per facet
// and takes precedence over satisfaction; a facet with zero votes is never
// satisfied. Terminal statuses are sticky.
func deriveStatus(current Status, tallies map[Facet]Tally) Status {
	if current.Terminal() {
		return current
	}
	allSatisfied := true
	for _, t := range tallies {
		if t.Reject > 0 {
			return StatusRejected
		}
		if !t.Satisfied {
			allSatisfied = false
		}
	}
	if allSatisfied {
		return StatusApproved
	}
	if current == StatusPending {
		return StatusUnderReview
	}
	return current
}
