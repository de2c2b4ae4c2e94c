// Package client is the Go SDK for the governance core API: approvals,
// trust ledger queries, policy bundles, gateway tokens, and request
// verification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to a governance core server.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the given base URL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL must not be empty")
	}
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiError is the server's error envelope.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ── Approvals ────────────────────────────────────────────────────────────────

// ApprovalRequest mirrors the server's approval request record.
type ApprovalRequest struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	ArtifactID     string   `json:"artifact_id"`
	ArtifactType   string   `json:"artifact_type"`
	LoaLevel       int      `json:"loa_level"`
	RequiredFacets []string `json:"required_facets"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
}

// CreateApprovalInput is the payload for CreateApproval.
type CreateApprovalInput struct {
	OrganizationID string   `json:"organization_id"`
	ArtifactID     string   `json:"artifact_id"`
	ArtifactType   string   `json:"artifact_type"`
	LoaLevel       int      `json:"loa_level"`
	RequiredFacets []string `json:"required_facets,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	RequestorID    string   `json:"requestor_id"`
	RequestReason  string   `json:"request_reason,omitempty"`
}

// CreateApproval opens a new approval request.
func (c *Client) CreateApproval(ctx context.Context, in CreateApprovalInput) (*ApprovalRequest, error) {
	var resp struct {
		Request *ApprovalRequest `json:"request"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/approvals", in, &resp); err != nil {
		return nil, err
	}
	return resp.Request, nil
}

// VoteResult is the server's response to SubmitVote.
type VoteResult struct {
	Request *ApprovalRequest           `json:"request"`
	Tallies map[string]json.RawMessage `json:"facet_status"`
	Decided bool                       `json:"decided"`
}

// SubmitVote records a facet vote on an approval request.
func (c *Client) SubmitVote(ctx context.Context, requestID, facet, reviewerID, vote, comment string) (*VoteResult, error) {
	var resp VoteResult
	err := c.do(ctx, http.MethodPost, "/api/v1/approvals/"+requestID+"/votes", map[string]string{
		"facet":       facet,
		"reviewer_id": reviewerID,
		"vote":        vote,
		"comment":     comment,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ── Trust ledger ─────────────────────────────────────────────────────────────

// LedgerEvent mirrors a trust ledger event.
type LedgerEvent struct {
	ID           string          `json:"id"`
	ArtifactType string          `json:"artifact_type"`
	ArtifactID   string          `json:"artifact_id"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	ContentHash  string          `json:"content_hash"`
	PrevHash     *string         `json:"prev_hash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LedgerEvents returns an artifact's recent events, newest first.
func (c *Client) LedgerEvents(ctx context.Context, artifactType, artifactID string, limit int) ([]LedgerEvent, error) {
	path := fmt.Sprintf("/api/v1/artifacts/%s/%s/ledger", artifactType, artifactID)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp struct {
		Events []LedgerEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// VerifyLedger walks an artifact's chain server-side and reports integrity.
func (c *Client) VerifyLedger(ctx context.Context, artifactType, artifactID string) (bool, string, error) {
	var resp struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	path := fmt.Sprintf("/api/v1/artifacts/%s/%s/ledger/verify", artifactType, artifactID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, "", err
	}
	return resp.Valid, resp.Error, nil
}

// ── Bundles ──────────────────────────────────────────────────────────────────

// ActiveBundle mirrors the gateway distribution record for an active bundle.
type ActiveBundle struct {
	URL       string     `json:"url"`
	Size      int        `json:"size"`
	Hash      string     `json:"hash"`
	Version   int        `json:"version"`
	Activated *time.Time `json:"activated"`
}

// ActiveBundles returns the organization's active bundle set.
func (c *Client) ActiveBundles(ctx context.Context, organizationID string) ([]ActiveBundle, error) {
	var resp struct {
		Bundles []ActiveBundle `json:"bundles"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/bundles/active?organization_id="+organizationID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bundles, nil
}

// ── Tokens ───────────────────────────────────────────────────────────────────

// IssueTokenInput is the payload for IssueToken.
type IssueTokenInput struct {
	OrganizationID string   `json:"organization_id"`
	ArtifactID     string   `json:"artifact_id"`
	ArtifactType   string   `json:"artifact_type"`
	LoaLevel       int      `json:"loa_level"`
	Scope          []string `json:"scope,omitempty"`
	IssuedFor      string   `json:"issued_for,omitempty"`
	IssuerID       string   `json:"issuer_id"`
	TTLSeconds     int      `json:"ttl_seconds,omitempty"`
}

// IssuedToken holds the signed JWT and the token record's ID.
type IssuedToken struct {
	Token  string `json:"token"`
	Record struct {
		ID            string    `json:"id"`
		BundleVersion int       `json:"bundle_version"`
		ExpiresAt     time.Time `json:"expires_at"`
	} `json:"record"`
}

// IssueToken mints a gateway token for an approved artifact.
func (c *Client) IssueToken(ctx context.Context, in IssueTokenInput) (*IssuedToken, error) {
	var resp IssuedToken
	if err := c.do(ctx, http.MethodPost, "/api/v1/tokens", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Introspection mirrors the server's token introspection result.
type Introspection struct {
	Valid  bool            `json:"valid"`
	Claims json.RawMessage `json:"claims,omitempty"`
}

// IntrospectToken verifies a presented token server-side.
func (c *Client) IntrospectToken(ctx context.Context, tokenString string) (*Introspection, error) {
	var resp Introspection
	err := c.do(ctx, http.MethodPost, "/api/v1/tokens/introspect", map[string]string{"token": tokenString}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeToken permanently invalidates a token.
func (c *Client) RevokeToken(ctx context.Context, tokenID, organizationID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tokens/"+tokenID+"/revoke",
		map[string]string{"organization_id": organizationID}, nil)
}
