// Package token implements the gateway token service: short-lived, scoped
// capability tokens bound to an approved artifact, its LoA level, and the
// organization's active policy bundle version.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/secure-knaight/governance-core/internal/bundle"
	"github.com/secure-knaight/governance-core/internal/ledger"
	"go.uber.org/zap"
)

// Default and maximum token lifetimes, overridable via Config.
const (
	DefaultTTL = 15 * time.Minute
	MaxTTL     = time.Hour
)

// Sentinel errors for the token service.
var (
	ErrArtifactNotApproved = errors.New("artifact is not approved")
	ErrNoActiveBundle      = errors.New("organization has no active bundle")
	ErrMissingIssuer       = errors.New("issuer id must not be empty")
	ErrInvalidLoaLevel     = errors.New("loa level must be between 1 and 5")
)

// BundleResolver resolves the organization's active bundle version.
// *bundle.Service satisfies this interface.
type BundleResolver interface {
	ActiveVersion(ctx context.Context, organizationID string) (int, error)
}

// ApprovalChecker reports whether an artifact is approved in the
// organization. *approval.Service satisfies this interface.
type ApprovalChecker interface {
	IsArtifactApproved(ctx context.Context, organizationID, artifactID string) (bool, error)
}

// jwtClaims is the wire shape of a gateway token.
type jwtClaims struct {
	jwt.RegisteredClaims
	LoaLevel      int      `json:"loa"`
	Scope         []string `json:"scope"`
	BundleVersion int      `json:"bnd"`
	Org           string   `json:"org"`
}

// Config tunes token lifetimes. Zero values fall back to the package
// defaults.
type Config struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// Service issues, introspects and revokes gateway tokens.
type Service struct {
	store         Store
	bundles       BundleResolver
	approvals     ApprovalChecker
	ledger        ledger.Ledger
	signingSecret []byte
	defaultTTL    time.Duration
	maxTTL        time.Duration
	logger        *zap.Logger
}

// NewService creates a token Service signing with the given HS256 secret.
func NewService(store Store, bundles BundleResolver, approvals ApprovalChecker, lg ledger.Ledger, signingSecret string, cfg Config, logger *zap.Logger) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = MaxTTL
	}
	return &Service{
		store:         store,
		bundles:       bundles,
		approvals:     approvals,
		ledger:        lg,
		signingSecret: []byte(signingSecret),
		defaultTTL:    cfg.DefaultTTL,
		maxTTL:        cfg.MaxTTL,
		logger:        logger,
	}
}

// IssueInput is the payload for minting a gateway token.
type IssueInput struct {
	OrganizationID string
	ArtifactID     string
	ArtifactType   ledger.ArtifactType
	LoaLevel       int
	Scope          []string
	IssuedFor      string
	IssuerID       string
	TTLSeconds     int
}

// IssuedToken pairs the signed JWT with its stored record.
type IssuedToken struct {
	Token  string `json:"token"`
	Record *Token `json:"record"`
}

// Issue mints a token bound to the organization's currently active bundle
// version. The artifact must be approved and an active bundle must exist.
// Caller-supplied TTLs are clamped to the configured ceiling; zero or
// negative values get the default lifetime.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*IssuedToken, error) {
	if in.IssuerID == "" {
		return nil, ErrMissingIssuer
	}
	if in.LoaLevel < 1 || in.LoaLevel > 5 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLoaLevel, in.LoaLevel)
	}

	approved, err := s.approvals.IsArtifactApproved(ctx, in.OrganizationID, in.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("check artifact approval: %w", err)
	}
	if !approved {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotApproved, in.ArtifactID)
	}

	version, err := s.bundles.ActiveVersion(ctx, in.OrganizationID)
	if err != nil {
		if errors.Is(err, bundle.ErrNoActiveBundle) {
			return nil, ErrNoActiveBundle
		}
		return nil, fmt.Errorf("resolve active bundle: %w", err)
	}

	ttl := time.Duration(in.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	now := time.Now().UTC()
	record := &Token{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		ArtifactID:     in.ArtifactID,
		ArtifactType:   in.ArtifactType,
		LoaLevel:       in.LoaLevel,
		Scope:          in.Scope,
		BundleVersion:  version,
		IssuedFor:      in.IssuedFor,
		IssuerID:       in.IssuerID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
	}

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.ArtifactID,
			Issuer:    in.IssuerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
			ID:        record.ID.String(),
		},
		LoaLevel:      in.LoaLevel,
		Scope:         in.Scope,
		BundleVersion: version,
		Org:           in.OrganizationID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	if _, err := s.ledger.Append(ctx, ledger.ArtifactGatewayToken, record.ID.String(), "TOKEN_ISSUED", map[string]any{
		"token_id":       record.ID.String(),
		"artifact_id":    in.ArtifactID,
		"loa_level":      in.LoaLevel,
		"scope":          in.Scope,
		"bundle_version": version,
		"expires_at":     record.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("ledger append: %w", err)
	}

	s.logger.Info("gateway token issued",
		zap.String("token_id", record.ID.String()),
		zap.String("artifact_id", in.ArtifactID),
		zap.Int("loa_level", in.LoaLevel),
		zap.Int("bundle_version", version),
		zap.Time("expires_at", record.ExpiresAt),
	)
	return &IssuedToken{Token: signed, Record: record}, nil
}

// Introspect verifies the presented JWT and checks the stored record.
// Malformed tokens, bad signatures and unknown IDs all yield valid=false
// rather than an error, so the caller cannot distinguish them by timing or
// shape.
func (s *Service) Introspect(ctx context.Context, tokenString string) (*Introspection, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return s.signingSecret, nil
	})
	if err != nil || !parsed.Valid {
		return &Introspection{Valid: false}, nil
	}

	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok {
		return &Introspection{Valid: false}, nil
	}
	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return &Introspection{Valid: false}, nil
	}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Introspection{Valid: false}, nil
		}
		return nil, fmt.Errorf("load token record: %w", err)
	}

	return &Introspection{
		Valid: record.ValidAt(time.Now().UTC()),
		Claims: &Claims{
			ArtifactID:    record.ArtifactID,
			ArtifactType:  record.ArtifactType,
			LoaLevel:      record.LoaLevel,
			Scope:         record.Scope,
			BundleVersion: record.BundleVersion,
		},
	}, nil
}

// Revoke permanently invalidates a token. Revoking an already-revoked token
// is a no-op; the ledger records only the first revocation.
func (s *Service) Revoke(ctx context.Context, tokenID uuid.UUID, organizationID string) error {
	record, revokedNow, err := s.store.Revoke(ctx, tokenID, organizationID)
	if err != nil {
		return err
	}
	if !revokedNow {
		return nil
	}

	if _, err := s.ledger.Append(ctx, ledger.ArtifactGatewayToken, tokenID.String(), "TOKEN_REVOKED", map[string]any{
		"token_id":    tokenID.String(),
		"artifact_id": record.ArtifactID,
		"revoked_at":  record.RevokedAt.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}

	s.logger.Info("gateway token revoked",
		zap.String("token_id", tokenID.String()),
		zap.String("organization_id", organizationID),
	)
	return nil
}

// ValidateAccess introspects the token and applies a scope and minimum-LoA
// check, for callers that want a single yes/no.
func (s *Service) ValidateAccess(ctx context.Context, tokenString, requiredScope string, requiredLoA int) (bool, error) {
	intro, err := s.Introspect(ctx, tokenString)
	if err != nil {
		return false, err
	}
	if !intro.Valid || intro.Claims == nil {
		return false, nil
	}
	if intro.Claims.LoaLevel < requiredLoA {
		return false, nil
	}
	for _, sc := range intro.Claims.Scope {
		if sc == requiredScope {
			return true, nil
		}
	}
	return false, nil
}
