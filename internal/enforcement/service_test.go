package enforcement

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/secure-knaight/governance-core/internal/ledger"
	"github.com/secure-knaight/governance-core/pkg/signing"
	"go.uber.org/zap"
)

const (
	testRootSecret = "test-root-secret"
	testCallerID   = "payment-agent.knaight"
	testOrgID      = "org-1"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *ledger.MemoryLedger) {
	t.Helper()
	store := NewMemoryStore()
	lg := ledger.NewMemory()
	return NewService(store, lg, testRootSecret, 0, zap.NewNop()), store, lg
}

// signedInput builds a VerifyInput whose signature was produced with the
// caller's properly derived secret, as a well-behaved upstream would.
func signedInput(t *testing.T, svc *Service) VerifyInput {
	t.Helper()
	secret, err := svc.DeriveSecret(testCallerID, testOrgID)
	if err != nil {
		t.Fatalf("DeriveSecret: %v", err)
	}
	signer := signing.Signer{Secret: secret}
	ts := time.Now().UTC().Format(time.RFC3339)
	body := []byte(`{"amount":100}`)
	return VerifyInput{
		Method:         "POST",
		Path:           "/api/payments",
		Timestamp:      ts,
		Body:           body,
		CallerID:       testCallerID,
		OrganizationID: testOrgID,
		Signature:      signing.SignaturePrefix + signer.Sign("POST", "/api/payments", ts, body, testCallerID),
	}
}

func TestVerify_AllowsValidSignature(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Verify(context.Background(), signedInput(t, svc))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Allowed() {
		t.Fatalf("result = %+v, want ALLOW", res)
	}
}

func TestVerify_AcceptsBarePrefixlessSignature(t *testing.T) {
	svc, _, _ := newTestService(t)

	in := signedInput(t, svc)
	in.Signature = in.Signature[len(signing.SignaturePrefix):]
	res, err := svc.Verify(context.Background(), in)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Allowed() {
		t.Fatalf("result = %+v, want ALLOW", res)
	}
}

func TestVerify_RejectsInvalidIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, id := range []string{"", "agent", "agent.other", "agent_x.knaight", "agent.knaight.extra"} {
		in := signedInput(t, svc)
		in.CallerID = id
		res, err := svc.Verify(context.Background(), in)
		if err != nil {
			t.Fatalf("Verify(%q): %v", id, err)
		}
		if res.Decision != DecisionDeny || res.Reason != ReasonInvalidIdentity {
			t.Fatalf("Verify(%q) = %+v, want DENY/%s", id, res, ReasonInvalidIdentity)
		}
	}
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, offset := range []time.Duration{-10 * time.Minute, 10 * time.Minute} {
		secret, err := svc.DeriveSecret(testCallerID, testOrgID)
		if err != nil {
			t.Fatalf("DeriveSecret: %v", err)
		}
		ts := time.Now().UTC().Add(offset).Format(time.RFC3339)
		body := []byte("{}")
		signer := signing.Signer{Secret: secret}
		in := VerifyInput{
			Method:         "POST",
			Path:           "/api/payments",
			Timestamp:      ts,
			Body:           body,
			CallerID:       testCallerID,
			OrganizationID: testOrgID,
			Signature:      signer.Sign("POST", "/api/payments", ts, body, testCallerID),
		}
		res, err := svc.Verify(context.Background(), in)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if res.Decision != DecisionDeny || res.Reason != ReasonStaleTimestamp {
			t.Fatalf("offset %v: result = %+v, want DENY/%s", offset, res, ReasonStaleTimestamp)
		}
	}
}

func TestVerify_RejectsMalformedTimestamp(t *testing.T) {
	svc, _, _ := newTestService(t)

	in := signedInput(t, svc)
	in.Timestamp = "yesterday"
	res, err := svc.Verify(context.Background(), in)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonBadTimestamp {
		t.Fatalf("result = %+v, want DENY/%s", res, ReasonBadTimestamp)
	}
}

func TestVerify_RejectsTamperedTuple(t *testing.T) {
	svc, _, _ := newTestService(t)

	tamper := []struct {
		name   string
		mutate func(*VerifyInput)
	}{
		{"body", func(in *VerifyInput) { in.Body = []byte(`{"amount":999}`) }},
		{"method", func(in *VerifyInput) { in.Method = "DELETE" }},
		{"path", func(in *VerifyInput) { in.Path = "/api/admin" }},
		{"signature", func(in *VerifyInput) { in.Signature = signing.SignaturePrefix + "deadbeef" }},
	}
	for _, tc := range tamper {
		t.Run(tc.name, func(t *testing.T) {
			in := signedInput(t, svc)
			tc.mutate(&in)
			res, err := svc.Verify(context.Background(), in)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.Decision != DecisionDeny || res.Reason != ReasonSignatureMismatch {
				t.Fatalf("result = %+v, want DENY/%s", res, ReasonSignatureMismatch)
			}
		})
	}
}

func TestVerify_RecordsEveryAttempt(t *testing.T) {
	svc, store, _ := newTestService(t)

	ctx := context.Background()
	if _, err := svc.Verify(ctx, signedInput(t, svc)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	bad := signedInput(t, svc)
	bad.Body = []byte("tampered")
	if _, err := svc.Verify(ctx, bad); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	junk := signedInput(t, svc)
	junk.CallerID = "nope"
	junk.OrganizationID = testOrgID
	if _, err := svc.Verify(ctx, junk); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	calls, err := store.ListByOrganization(ctx, testOrgID, 0)
	if err != nil {
		t.Fatalf("ListByOrganization: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("recorded calls = %d, want 3", len(calls))
	}
	// Most recent first: identity deny, signature deny, allow.
	if calls[0].Decision != DecisionDeny || calls[0].Reason != ReasonInvalidIdentity {
		t.Fatalf("calls[0] = %+v", calls[0])
	}
	if calls[2].Decision != DecisionAllow {
		t.Fatalf("calls[2] = %+v, want ALLOW", calls[2])
	}
}

func TestVerify_LedgerEventOnAllowOnly(t *testing.T) {
	svc, _, lg := newTestService(t)

	ctx := context.Background()
	bad := signedInput(t, svc)
	bad.Body = []byte("tampered")
	if _, err := svc.Verify(ctx, bad); err != nil {
		t.Fatalf("Verify (deny): %v", err)
	}
	chain, err := lg.Chain(ctx, testCallerID)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 0 {
		t.Fatalf("denied attempt wrote %d ledger events, want 0", len(chain))
	}

	if _, err := svc.Verify(ctx, signedInput(t, svc)); err != nil {
		t.Fatalf("Verify (allow): %v", err)
	}
	chain, err = lg.Chain(ctx, testCallerID)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 1 || chain[0].Action != "ENFORCEMENT_CALL_SIGNED" {
		t.Fatalf("chain = %+v, want single ENFORCEMENT_CALL_SIGNED event", chain)
	}
}

func TestDeriveSecret_BoundToCallerAndOrg(t *testing.T) {
	svc, _, _ := newTestService(t)

	a, err := svc.DeriveSecret("agent-a.knaight", "org-1")
	if err != nil {
		t.Fatalf("DeriveSecret: %v", err)
	}
	b, err := svc.DeriveSecret("agent-b.knaight", "org-1")
	if err != nil {
		t.Fatalf("DeriveSecret: %v", err)
	}
	c, err := svc.DeriveSecret("agent-a.knaight", "org-2")
	if err != nil {
		t.Fatalf("DeriveSecret: %v", err)
	}
	if string(a) == string(b) || string(a) == string(c) {
		t.Fatal("derived secrets must differ across caller and organization")
	}
	again, err := svc.DeriveSecret("agent-a.knaight", "org-1")
	if err != nil {
		t.Fatalf("DeriveSecret: %v", err)
	}
	if string(a) != string(again) {
		t.Fatal("derivation must be deterministic")
	}
}

func TestFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(signing.HeaderSignature, "hmac-sha256=abc123")
	h.Set(signing.HeaderTimestamp, "2026-01-02T15:04:05Z")
	h.Set(signing.HeaderCallerID, testCallerID)
	h.Set(signing.HeaderOrganization, testOrgID)

	in := FromHeaders("post", "/api/x", []byte("body"), h)
	if in.Signature != "hmac-sha256=abc123" || in.Timestamp != "2026-01-02T15:04:05Z" {
		t.Fatalf("parsed input = %+v", in)
	}
	if in.CallerID != testCallerID || in.OrganizationID != testOrgID {
		t.Fatalf("parsed identity = %q / %q", in.CallerID, in.OrganizationID)
	}
}

func TestSignerHeaders_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)

	secret, err := svc.DeriveSecret(testCallerID, testOrgID)
	if err != nil {
		t.Fatalf("DeriveSecret: %v", err)
	}
	body := []byte(`{"op":"transfer"}`)
	h := signing.Signer{Secret: secret}.Headers("POST", "/api/payments", body, testCallerID, testOrgID)

	res, err := svc.Verify(context.Background(), FromHeaders("POST", "/api/payments", body, h))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Allowed() {
		t.Fatalf("result = %+v, want ALLOW", res)
	}
}
