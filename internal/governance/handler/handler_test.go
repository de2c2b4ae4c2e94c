package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/secure-knaight/governance-core/internal/approval"
	"github.com/secure-knaight/governance-core/internal/bundle"
	"github.com/secure-knaight/governance-core/internal/enforcement"
	"github.com/secure-knaight/governance-core/internal/governance/handler"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"github.com/secure-knaight/governance-core/internal/token"
	"go.uber.org/zap"
)

// env bundles the full in-memory service stack behind one router, the way
// cmd/governance wires it in production.
type env struct {
	router      *gin.Engine
	ledger      *ledger.MemoryLedger
	approvals   *approval.Service
	bundles     *bundle.Service
	tokens      *token.Service
	enforcement *enforcement.Service
}

func setup(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	lg := ledger.NewMemory()
	approvals := approval.NewService(approval.NewMemoryStore(), lg, logger)
	bundles := bundle.NewService(
		bundle.NewMemoryStore(), bundle.NewMemoryBlobStore(), approvals, lg,
		"bundle-secret", "https://bundles.example.com", logger,
	)
	tokens := token.NewService(
		token.NewMemoryStore(), bundles, approvals, lg,
		"token-secret", token.Config{}, logger,
	)
	enf := enforcement.NewService(enforcement.NewMemoryStore(), lg, "root-secret", 0, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewApprovalHandler(approvals, logger).Register(v1)
	handler.NewLedgerHandler(lg, logger).Register(v1)
	handler.NewBundleHandler(bundles, logger).Register(v1)
	handler.NewTokenHandler(tokens, logger).Register(v1)
	handler.NewEnforcementHandler(enf, logger).Register(v1)

	return &env{
		router:      r,
		ledger:      lg,
		approvals:   approvals,
		bundles:     bundles,
		tokens:      tokens,
		enforcement: enf,
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

// approveArtifact drives an artifact through a single-facet approval so
// bundle and token endpoints have something approved to work with.
func (e *env) approveArtifact(t *testing.T, orgID, artifactID string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/approvals", map[string]any{
		"organization_id": orgID,
		"artifact_id":     artifactID,
		"artifact_type":   "ROLE_AGENT",
		"loa_level":       3,
		"required_facets": []string{"security"},
		"requestor_id":    "requestor-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create approval: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	id := resp["request"].(map[string]any)["id"].(string)

	w = e.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/votes", map[string]any{
		"facet":       "security",
		"reviewer_id": "reviewer-1",
		"vote":        "approve",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("vote: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
