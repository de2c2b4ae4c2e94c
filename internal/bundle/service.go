// Package bundle implements the policy bundle service: compiling approved
// artifacts, policies and controls into versioned, content-addressed,
// signed bundles with a single-active-bundle-per-organization invariant.
package bundle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"go.uber.org/zap"
)

// compilerName is stamped into every bundle manifest.
const compilerName = "sck-policy-compiler/1.0"

// Sentinel errors for the bundle service.
var (
	ErrMissingOrganization = errors.New("organization id must not be empty")
	ErrArtifactNotApproved = errors.New("artifact is not approved")
	ErrMissingSigner       = errors.New("signer id must not be empty")
)

// ApprovalChecker reports whether an artifact holds an approved request in
// the organization. *approval.Service satisfies this interface.
type ApprovalChecker interface {
	IsArtifactApproved(ctx context.Context, organizationID, artifactID string) (bool, error)
}

// Service compiles, signs and activates policy bundles.
type Service struct {
	store         Store
	blobs         BlobStore
	approvals     ApprovalChecker
	ledger        ledger.Ledger
	signingSecret []byte
	baseURL       string
	logger        *zap.Logger
}

// NewService creates a bundle Service. baseURL prefixes the storage refs in
// active-bundle listings so the policy-evaluation engine can fetch blobs.
func NewService(store Store, blobs BlobStore, approvals ApprovalChecker, lg ledger.Ledger, signingSecret, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		store:         store,
		blobs:         blobs,
		approvals:     approvals,
		ledger:        lg,
		signingSecret: []byte(signingSecret),
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// Compile renders the inputs into a deterministic bundle, stores the blob
// content-addressed, and records a DRAFT row with the organization's next
// version. Every listed artifact must already be approved.
func (s *Service) Compile(ctx context.Context, organizationID string, artifacts, policies, controls []string) (*Bundle, error) {
	if organizationID == "" {
		return nil, ErrMissingOrganization
	}
	for _, artifactID := range artifacts {
		ok, err := s.approvals.IsArtifactApproved(ctx, organizationID, artifactID)
		if err != nil {
			return nil, fmt.Errorf("check artifact approval: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotApproved, artifactID)
		}
	}

	content := renderContent(organizationID, artifacts, policies, controls)
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	ref := fmt.Sprintf("%s/%s.tar.gz", organizationID, hash)

	if err := s.blobs.Put(ctx, ref, content); err != nil {
		return nil, fmt.Errorf("store bundle blob: %w", err)
	}

	b := &Bundle{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		BundleHash:     hash,
		StorageRef:     ref,
		BundleSize:     len(content),
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("persist bundle: %w", err)
	}

	if _, err := s.ledger.Append(ctx, ledger.ArtifactPolicyBundle, b.ID.String(), "BUNDLE_COMPILED", map[string]any{
		"bundle_id": b.ID.String(),
		"version":   b.Version,
		"hash":      b.BundleHash,
		"size":      b.BundleSize,
	}); err != nil {
		return nil, fmt.Errorf("ledger append: %w", err)
	}

	s.logger.Info("policy bundle compiled",
		zap.String("bundle_id", b.ID.String()),
		zap.String("organization_id", organizationID),
		zap.Int("version", b.Version),
		zap.String("hash", hash),
	)
	return b, nil
}

// Publish signs a DRAFT bundle and transitions it to PUBLISHED. Publishing
// is one-way; a published bundle never returns to DRAFT.
func (s *Service) Publish(ctx context.Context, bundleID uuid.UUID, signerID string) (*Bundle, error) {
	if signerID == "" {
		return nil, ErrMissingSigner
	}
	b, err := s.store.Get(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	signature := s.sign(b.BundleHash, signerID)
	published, err := s.store.Publish(ctx, bundleID, signature, signerID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Append(ctx, ledger.ArtifactPolicyBundle, bundleID.String(), "BUNDLE_PUBLISHED", map[string]any{
		"bundle_id": bundleID.String(),
		"version":   published.Version,
		"signer_id": signerID,
	}); err != nil {
		return nil, fmt.Errorf("ledger append: %w", err)
	}

	s.logger.Info("policy bundle published",
		zap.String("bundle_id", bundleID.String()),
		zap.String("signer_id", signerID),
	)
	return published, nil
}

// Activate promotes a PUBLISHED bundle to ACTIVE, retiring the previous
// ACTIVE bundle in the same atomic step.
func (s *Service) Activate(ctx context.Context, bundleID uuid.UUID) (*Bundle, error) {
	activated, err := s.store.Activate(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Append(ctx, ledger.ArtifactPolicyBundle, bundleID.String(), "BUNDLE_ACTIVATED", map[string]any{
		"bundle_id": bundleID.String(),
		"version":   activated.Version,
	}); err != nil {
		return nil, fmt.Errorf("ledger append: %w", err)
	}

	s.logger.Info("policy bundle activated",
		zap.String("bundle_id", bundleID.String()),
		zap.String("organization_id", activated.OrganizationID),
		zap.Int("version", activated.Version),
	)
	return activated, nil
}

// Retire takes an ACTIVE or PUBLISHED bundle out of service.
func (s *Service) Retire(ctx context.Context, bundleID uuid.UUID) (*Bundle, error) {
	retired, err := s.store.Retire(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Append(ctx, ledger.ArtifactPolicyBundle, bundleID.String(), "BUNDLE_RETIRED", map[string]any{
		"bundle_id": bundleID.String(),
		"version":   retired.Version,
	}); err != nil {
		return nil, fmt.Errorf("ledger append: %w", err)
	}
	return retired, nil
}

// Get returns one bundle by ID.
func (s *Service) Get(ctx context.Context, bundleID uuid.UUID) (*Bundle, error) {
	return s.store.Get(ctx, bundleID)
}

// ActiveVersion returns the version of the organization's ACTIVE bundle.
// Token issuance binds tokens to this version.
func (s *Service) ActiveVersion(ctx context.Context, organizationID string) (int, error) {
	b, err := s.store.ActiveForOrg(ctx, organizationID)
	if err != nil {
		return 0, err
	}
	return b.Version, nil
}

// ListActive returns the active-bundle rows consumed by the external
// policy-evaluation engine, optionally filtered to one organization.
func (s *Service) ListActive(ctx context.Context, organizationID string) ([]*ActiveBundle, error) {
	bundles, err := s.store.ListActive(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	out := make([]*ActiveBundle, len(bundles))
	for i, b := range bundles {
		out[i] = &ActiveBundle{
			URL:       s.baseURL + "/" + b.StorageRef,
			Size:      b.BundleSize,
			Hash:      b.BundleHash,
			Version:   b.Version,
			Activated: b.ActivatedAt,
		}
	}
	return out, nil
}

// sign computes the bundle signature: HMAC-SHA256 over hash:signer with the
// bundle signing secret, base64-encoded.
func (s *Service) sign(bundleHash, signerID string) string {
	mac := hmac.New(sha256.New, s.signingSecret)
	fmt.Fprintf(mac, "%s:%s", bundleHash, signerID)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// renderContent produces the deterministic bundle body. Inputs are sorted so
// semantically identical compiles hash identically; no timestamps appear in
// the hashed content.
func renderContent(organizationID string, artifacts, policies, controls []string) []byte {
	artifacts = sortedCopy(artifacts)
	policies = sortedCopy(policies)
	controls = sortedCopy(controls)

	var sb strings.Builder
	sb.WriteString("# SCK Policy Bundle\n")
	sb.WriteString("# Organization: " + organizationID + "\n")
	sb.WriteString("# Artifacts: " + strings.Join(artifacts, ", ") + "\n\n")
	for _, p := range policies {
		sb.WriteString("# Policy: " + p + "\n")
	}
	sb.WriteString("\n")
	for _, c := range controls {
		sb.WriteString("# Control: " + c + "\n")
	}
	sb.WriteString("\ndefault allow = false\n")
	return []byte(sb.String())
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
