package approval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/approval"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newSvc() (*approval.Service, *approval.MemoryStore, *ledger.MemoryLedger) {
	store := approval.NewMemoryStore()
	lg := ledger.NewMemory()
	return approval.NewService(store, lg, zap.NewNop()), store, lg
}

func createRequest(t *testing.T, svc *approval.Service, facets ...approval.Facet) *approval.Request {
	t.Helper()
	req, err := svc.CreateRequest(ctx, approval.CreateInput{
		OrganizationID: "org-1",
		ArtifactID:     "agent-1",
		ArtifactType:   ledger.ArtifactRoleAgent,
		LoaLevel:       3,
		RequiredFacets: facets,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

func vote(t *testing.T, svc *approval.Service, id uuid.UUID, facet approval.Facet, reviewer string, v approval.VoteValue) *approval.VoteResult {
	t.Helper()
	res, err := svc.SubmitVote(ctx, approval.VoteInput{
		RequestID:  id,
		Facet:      facet,
		ReviewerID: reviewer,
		Vote:       v,
	})
	if err != nil {
		t.Fatalf("SubmitVote(%s/%s/%s): %v", facet, reviewer, v, err)
	}
	return res
}

// ── CreateRequest ──────────────────────────────────────────────────────────

func TestCreateRequest_startsPending(t *testing.T) {
	svc, _, lg := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	if req.Status != approval.StatusPending {
		t.Errorf("status: got %s, want PENDING", req.Status)
	}
	events, _ := lg.Events(ctx, "agent-1", 10)
	if len(events) != 1 || events[0].Action != "APPROVAL_REQUEST_CREATED" {
		t.Errorf("expected one APPROVAL_REQUEST_CREATED ledger event, got %v", events)
	}
}

func TestCreateRequest_invalidLoaLevel(t *testing.T) {
	svc, _, _ := newSvc()
	for _, level := range []int{0, 6, -1} {
		_, err := svc.CreateRequest(ctx, approval.CreateInput{
			OrganizationID: "org-1",
			ArtifactID:     "a",
			ArtifactType:   ledger.ArtifactRoleAgent,
			LoaLevel:       level,
		})
		if !errors.Is(err, approval.ErrInvalidLoaLevel) {
			t.Errorf("level %d: expected ErrInvalidLoaLevel, got %v", level, err)
		}
	}
}

func TestCreateRequest_invalidArtifactType(t *testing.T) {
	svc, _, _ := newSvc()
	_, err := svc.CreateRequest(ctx, approval.CreateInput{
		OrganizationID: "org-1",
		ArtifactID:     "a",
		ArtifactType:   ledger.ArtifactType("WIDGET"),
		LoaLevel:       1,
	})
	if !errors.Is(err, approval.ErrInvalidArtifactType) {
		t.Errorf("expected ErrInvalidArtifactType, got %v", err)
	}
}

func TestCreateRequest_facetsDefaultFromPolicy(t *testing.T) {
	svc, store, _ := newSvc()
	_ = store.PutPolicy(ctx, &approval.LoaPolicy{
		OrganizationID: "org-1",
		ArtifactType:   ledger.ArtifactRoleAgent,
		MinReviewers:   1,
		RequiredFacets: []approval.Facet{approval.FacetSecurity, approval.FacetCompliance},
	})

	req := createRequest(t, svc) // no explicit facets
	if len(req.RequiredFacets) != 2 {
		t.Errorf("expected policy facets, got %v", req.RequiredFacets)
	}
}

// ── SubmitVote: transition rule ────────────────────────────────────────────

func TestSubmitVote_approveSatisfiesSingleFacet(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	res := vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	if res.Request.Status != approval.StatusApproved {
		t.Errorf("status: got %s, want APPROVED", res.Request.Status)
	}
	if !res.Tallies[approval.FacetSecurity].Satisfied {
		t.Error("security facet should be satisfied")
	}
}

func TestSubmitVote_pendingMovesToUnderReview(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity, approval.FacetLegal)

	res := vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	if res.Request.Status != approval.StatusUnderReview {
		t.Errorf("status: got %s, want UNDER_REVIEW (legal facet still unvoted)", res.Request.Status)
	}
}

func TestSubmitVote_rejectIsHardVeto(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity, approval.FacetLegal)

	vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	vote(t, svc, req.ID, approval.FacetLegal, "bob", approval.VoteApprove)
	// All facets satisfied... but a reject on any facet vetoes. The request
	// is already APPROVED here, so replay the scenario with the reject first.
	req2 := createRequest(t, svc, approval.FacetSecurity, approval.FacetLegal)
	vote(t, svc, req2.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	res := vote(t, svc, req2.ID, approval.FacetLegal, "carol", approval.VoteReject)
	if res.Request.Status != approval.StatusRejected {
		t.Errorf("status: got %s, want REJECTED", res.Request.Status)
	}
}

func TestSubmitVote_rejectBeatsSatisfiedFacets(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	// Two reviewers split on the same facet in one recomputation: the facet
	// is satisfied (quorum 1) AND carries a reject. Veto must win.
	vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	// alice's approve already closed the request; run a fresh one where the
	// reject arrives before recomputation sees the facet satisfied.
	req2 := createRequest(t, svc, approval.FacetSecurity, approval.FacetLegal)
	vote(t, svc, req2.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	vote(t, svc, req2.ID, approval.FacetSecurity, "mallory", approval.VoteReject)
	got, _, err := svc.Get(ctx, req2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != approval.StatusRejected {
		t.Errorf("status: got %s, want REJECTED (reject present on satisfied facet)", got.Status)
	}
}

func TestSubmitVote_abstainCountsNeither(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	res := vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteAbstain)
	if res.Request.Status != approval.StatusUnderReview {
		t.Errorf("status: got %s, want UNDER_REVIEW", res.Request.Status)
	}
	tally := res.Tallies[approval.FacetSecurity]
	if tally.Approve != 0 || tally.Reject != 0 || tally.Abstain != 1 {
		t.Errorf("tally: %+v", tally)
	}
}

func TestSubmitVote_terminalStatusIsStable(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	// Later votes — even rejects — never reopen a terminal request.
	res := vote(t, svc, req.ID, approval.FacetSecurity, "bob", approval.VoteReject)
	if res.Request.Status != approval.StatusApproved {
		t.Errorf("terminal status changed: got %s, want APPROVED", res.Request.Status)
	}
}

// staleReadStore serves a request snapshot taken before a concurrent reject
// landed and hides that reviewer's votes, reproducing two SubmitVote calls
// interleaving their read-tally-write sequences on the same request.
type staleReadStore struct {
	approval.Store
	stale     *approval.Request
	served    bool
	omitVoter string
}

func (s *staleReadStore) GetRequest(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	if !s.served {
		s.served = true
		cp := *s.stale
		return &cp, nil
	}
	return s.Store.GetRequest(ctx, id)
}

func (s *staleReadStore) VotesByRequest(ctx context.Context, id uuid.UUID) ([]*approval.Vote, error) {
	votes, err := s.Store.VotesByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []*approval.Vote
	for _, v := range votes {
		if v.ReviewerID != s.omitVoter {
			out = append(out, v)
		}
	}
	return out, nil
}

func TestSubmitVote_interleavedVoteCannotOverwriteTerminalStatus(t *testing.T) {
	store := approval.NewMemoryStore()
	lg := ledger.NewMemory()
	svc := approval.NewService(store, lg, zap.NewNop())
	req := createRequest(t, svc, approval.FacetSecurity)

	// Ann's reject lands first and finalises the request.
	vote(t, svc, req.ID, approval.FacetSecurity, "ann", approval.VoteReject)

	// Bob's approve was read and tallied against the pre-reject state; the
	// status write must not clobber the stored REJECTED.
	lagged := approval.NewService(
		&staleReadStore{Store: store, stale: req, omitVoter: "ann"}, lg, zap.NewNop())
	res, err := lagged.SubmitVote(ctx, approval.VoteInput{
		RequestID:  req.ID,
		Facet:      approval.FacetSecurity,
		ReviewerID: "bob",
		Vote:       approval.VoteApprove,
	})
	if err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if res.Decided {
		t.Error("lagged vote reported Decided, want the earlier reject to stand")
	}
	if res.Request.Status != approval.StatusRejected {
		t.Errorf("result status: got %s, want REJECTED", res.Request.Status)
	}

	stored, err := store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if stored.Status != approval.StatusRejected {
		t.Errorf("stored status: got %s, want REJECTED", stored.Status)
	}
	if approved, _ := svc.IsArtifactApproved(ctx, "org-1", "agent-1"); approved {
		t.Error("rejected artifact reported as approved")
	}
}

func TestSubmitVote_secondApproveOnSatisfiedFacetKeepsApproved(t *testing.T) {
	// End-to-end scenario from the acceptance list: reviewer A approves and
	// satisfies the quorum, reviewer B's later approve changes nothing.
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	resA := vote(t, svc, req.ID, approval.FacetSecurity, "reviewer-a", approval.VoteApprove)
	if resA.Request.Status != approval.StatusApproved {
		t.Fatalf("after reviewer A: got %s, want APPROVED", resA.Request.Status)
	}
	resB := vote(t, svc, req.ID, approval.FacetSecurity, "reviewer-b", approval.VoteApprove)
	if resB.Request.Status != approval.StatusApproved {
		t.Errorf("after reviewer B: got %s, want APPROVED", resB.Request.Status)
	}
}

func TestSubmitVote_quorumFromPolicy(t *testing.T) {
	svc, store, _ := newSvc()
	_ = store.PutPolicy(ctx, &approval.LoaPolicy{
		OrganizationID: "org-1",
		ArtifactType:   ledger.ArtifactRoleAgent,
		MinReviewers:   2,
		RequiredFacets: []approval.Facet{approval.FacetSecurity},
	})
	req := createRequest(t, svc, approval.FacetSecurity)

	res := vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	if res.Request.Status != approval.StatusUnderReview {
		t.Fatalf("one approve with quorum 2: got %s, want UNDER_REVIEW", res.Request.Status)
	}
	res = vote(t, svc, req.ID, approval.FacetSecurity, "bob", approval.VoteApprove)
	if res.Request.Status != approval.StatusApproved {
		t.Errorf("two approves with quorum 2: got %s, want APPROVED", res.Request.Status)
	}
}

func TestSubmitVote_reviewerRevisesVote(t *testing.T) {
	svc, store, _ := newSvc()
	_ = store.PutPolicy(ctx, &approval.LoaPolicy{
		OrganizationID: "org-1",
		ArtifactType:   ledger.ArtifactRoleAgent,
		MinReviewers:   2,
		RequiredFacets: []approval.Facet{approval.FacetSecurity},
	})
	req := createRequest(t, svc, approval.FacetSecurity)

	vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteAbstain)
	res := vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)

	tally := res.Tallies[approval.FacetSecurity]
	if tally.Approve != 1 || tally.Abstain != 0 {
		t.Errorf("revised vote should replace, not duplicate: %+v", tally)
	}
}

func TestSubmitVote_facetNotRequired(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	_, err := svc.SubmitVote(ctx, approval.VoteInput{
		RequestID:  req.ID,
		Facet:      approval.FacetLegal,
		ReviewerID: "alice",
		Vote:       approval.VoteApprove,
	})
	if !errors.Is(err, approval.ErrFacetNotRequired) {
		t.Errorf("expected ErrFacetNotRequired, got %v", err)
	}
}

func TestSubmitVote_invalidVoteValue(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	_, err := svc.SubmitVote(ctx, approval.VoteInput{
		RequestID:  req.ID,
		Facet:      approval.FacetSecurity,
		ReviewerID: "alice",
		Vote:       approval.VoteValue("maybe"),
	})
	if !errors.Is(err, approval.ErrInvalidVote) {
		t.Errorf("expected ErrInvalidVote, got %v", err)
	}
}

func TestSubmitVote_unknownRequest(t *testing.T) {
	svc, _, _ := newSvc()
	_, err := svc.SubmitVote(ctx, approval.VoteInput{
		RequestID:  uuid.New(),
		Facet:      approval.FacetSecurity,
		ReviewerID: "alice",
		Vote:       approval.VoteApprove,
	})
	if !errors.Is(err, approval.ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestSubmitVote_emitsLedgerEvents(t *testing.T) {
	svc, _, lg := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)

	chain, err := lg.Chain(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	// Created + vote + terminal decision.
	var actions []string
	for _, ev := range chain {
		actions = append(actions, ev.Action)
	}
	want := []string{"APPROVAL_REQUEST_CREATED", "APPROVAL_VOTE", "APPROVAL_DECISION"}
	if len(actions) != len(want) {
		t.Fatalf("actions: got %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("action[%d]: got %s, want %s", i, actions[i], want[i])
		}
	}
}

// ── Queries ────────────────────────────────────────────────────────────────

func TestOrgStats_countsByStatus(t *testing.T) {
	svc, _, _ := newSvc()
	r1 := createRequest(t, svc, approval.FacetSecurity)
	createRequest(t, svc, approval.FacetSecurity)
	vote(t, svc, r1.ID, approval.FacetSecurity, "alice", approval.VoteApprove)

	stats, err := svc.OrgStats(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Approved != 1 || stats.Pending != 1 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestIsArtifactApproved(t *testing.T) {
	svc, _, _ := newSvc()
	req := createRequest(t, svc, approval.FacetSecurity)

	ok, err := svc.IsArtifactApproved(ctx, "org-1", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("artifact should not be approved yet")
	}

	vote(t, svc, req.ID, approval.FacetSecurity, "alice", approval.VoteApprove)
	ok, err = svc.IsArtifactApproved(ctx, "org-1", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("artifact should be approved")
	}
}

func TestHasPendingApprovals(t *testing.T) {
	svc, _, _ := newSvc()
	createRequest(t, svc, approval.FacetSecurity)

	ok, err := svc.HasPendingApprovals(ctx, ledger.ArtifactRoleAgent, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected pending approvals")
	}
}
