// Package enforcement implements the request verification service: it
// checks HMAC-signed upstream requests against per-caller derived secrets
// and records every verification attempt.
package enforcement

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"github.com/secure-knaight/governance-core/pkg/signing"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// DefaultClockSkew is the acceptance window either side of now for the
// request timestamp.
const DefaultClockSkew = 5 * time.Minute

// callerIDPattern is the identity namespace accepted by the verifier.
// Checked before any cryptographic work.
var callerIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+\.knaight$`)

// derivedSecretSize is the HKDF output length in bytes.
const derivedSecretSize = 32

// Service verifies signed requests and records call telemetry.
type Service struct {
	store      Store
	ledger     ledger.Ledger
	rootSecret []byte
	clockSkew  time.Duration
	logger     *zap.Logger
}

// NewService creates a verification Service. clockSkew <= 0 falls back to
// DefaultClockSkew.
func NewService(store Store, lg ledger.Ledger, rootSecret string, clockSkew time.Duration, logger *zap.Logger) *Service {
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}
	return &Service{
		store:      store,
		ledger:     lg,
		rootSecret: []byte(rootSecret),
		clockSkew:  clockSkew,
		logger:     logger,
	}
}

// DeriveSecret derives a caller's shared secret from the root secret with
// HKDF-SHA256, bound to the caller and organization. Secrets are recomputed
// on every verification and never stored.
func (s *Service) DeriveSecret(callerID, organizationID string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.rootSecret, nil, []byte(callerID+"|"+organizationID))
	secret := make([]byte, derivedSecretSize)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("derive caller secret: %w", err)
	}
	return secret, nil
}

// Verify checks a signed request tuple. Identity format is checked before
// any crypto, then timestamp freshness, then the signature itself with a
// constant-time compare. Every attempt is recorded; an allowed call is
// additionally appended to the trust ledger.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (Result, error) {
	if !callerIDPattern.MatchString(in.CallerID) {
		return s.deny(ctx, in, ReasonInvalidIdentity)
	}

	ts, err := time.Parse(time.RFC3339, in.Timestamp)
	if err != nil {
		return s.deny(ctx, in, ReasonBadTimestamp)
	}
	if drift := time.Since(ts); drift > s.clockSkew || drift < -s.clockSkew {
		return s.deny(ctx, in, ReasonStaleTimestamp)
	}

	secret, err := s.DeriveSecret(in.CallerID, in.OrganizationID)
	if err != nil {
		return s.record(ctx, in, DecisionError, err.Error())
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signing.CanonicalString(in.Method, in.Path, in.Timestamp, in.Body, in.CallerID)))
	expected := hex.EncodeToString(mac.Sum(nil))

	presented := strings.TrimPrefix(in.Signature, signing.SignaturePrefix)
	if !hmac.Equal([]byte(expected), []byte(presented)) {
		return s.deny(ctx, in, ReasonSignatureMismatch)
	}

	res, err := s.record(ctx, in, DecisionAllow, "")
	if err != nil {
		return res, err
	}
	if _, err := s.ledger.Append(ctx, ledger.ArtifactEnforcementCall, in.CallerID, "ENFORCEMENT_CALL_SIGNED", map[string]any{
		"caller_id":       in.CallerID,
		"organization_id": in.OrganizationID,
		"method":          strings.ToUpper(in.Method),
		"path":            in.Path,
		"timestamp":       in.Timestamp,
	}); err != nil {
		return Result{}, fmt.Errorf("ledger append: %w", err)
	}
	return res, nil
}

// ListCalls returns recent verification attempts for an organization,
// most recent first.
func (s *Service) ListCalls(ctx context.Context, organizationID string, limit int) ([]*Call, error) {
	return s.store.ListByOrganization(ctx, organizationID, limit)
}

func (s *Service) deny(ctx context.Context, in VerifyInput, reason string) (Result, error) {
	return s.record(ctx, in, DecisionDeny, reason)
}

func (s *Service) record(ctx context.Context, in VerifyInput, decision Decision, reason string) (Result, error) {
	call := &Call{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		CallerID:       in.CallerID,
		Method:         strings.ToUpper(in.Method),
		Path:           in.Path,
		Decision:       decision,
		Reason:         reason,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Record(ctx, call); err != nil {
		return Result{}, fmt.Errorf("record enforcement call: %w", err)
	}
	if decision != DecisionAllow {
		s.logger.Warn("request verification denied",
			zap.String("caller_id", in.CallerID),
			zap.String("organization_id", in.OrganizationID),
			zap.String("method", call.Method),
			zap.String("path", in.Path),
			zap.String("reason", reason),
		)
	}
	return Result{Decision: decision, Reason: reason}, nil
}

// FromHeaders extracts the signed-request tuple from an incoming request's
// X-SCK-* headers. Method, path and body come from the request itself.
func FromHeaders(method, path string, body []byte, h http.Header) VerifyInput {
	return VerifyInput{
		Method:         method,
		Path:           path,
		Timestamp:      h.Get(signing.HeaderTimestamp),
		Body:           body,
		CallerID:       h.Get(signing.HeaderCallerID),
		OrganizationID: h.Get(signing.HeaderOrganization),
		Signature:      h.Get(signing.HeaderSignature),
	}
}
