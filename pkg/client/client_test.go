package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestNew_emptyBase(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestCreateApproval(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/approvals" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in CreateApprovalInput
		json.NewDecoder(r.Body).Decode(&in)
		if in.ArtifactID != "agent-1" {
			t.Errorf("artifact_id = %q", in.ArtifactID)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"request": map[string]any{"id": "req-1", "status": "PENDING"},
		})
	})

	req, err := c.CreateApproval(context.Background(), CreateApprovalInput{
		OrganizationID: "org-1",
		ArtifactID:     "agent-1",
		ArtifactType:   "ROLE_AGENT",
		LoaLevel:       3,
		RequestorID:    "requestor-1",
	})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}
	if req.ID != "req-1" || req.Status != "PENDING" {
		t.Fatalf("request = %+v", req)
	}
}

func TestVerifyLedger(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/artifacts/ROLE_AGENT/agent-1/ledger/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": false, "error": "broken link"})
	})

	valid, reason, err := c.VerifyLedger(context.Background(), "ROLE_AGENT", "agent-1")
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	if valid || reason != "broken link" {
		t.Fatalf("valid=%v reason=%q", valid, reason)
	}
}

func TestDo_404_mapsToErrNotFound(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "token not found"})
	})

	err := c.RevokeToken(context.Background(), "tok-1", "org-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDo_4xx_surfacesServerMessage(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "organization has no active bundle"})
	})

	_, err := c.IssueToken(context.Background(), IssueTokenInput{
		OrganizationID: "org-1", ArtifactID: "agent-1", ArtifactType: "ROLE_AGENT",
		LoaLevel: 3, IssuerID: "reviewer-1",
	})
	if err == nil || err.Error() != "server returned 409: organization has no active bundle" {
		t.Fatalf("err = %v", err)
	}
}
