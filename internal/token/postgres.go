package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, t *Token) error {
	scope := t.Scope
	if scope == nil {
		scope = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO gateway_tokens (
			id, organization_id, artifact_id, artifact_type, loa_level,
			scope, bundle_version, issued_for, issuer_id, issued_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.OrganizationID, t.ArtifactID, t.ArtifactType, t.LoaLevel,
		scope, t.BundleVersion, t.IssuedFor, t.IssuerID, t.IssuedAt, t.ExpiresAt,
	)
	return err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Token, error) {
	rows, err := s.db.Query(ctx, tokenSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanToken(rows)
}

// Revoke implements Store. The revoked_at IS NULL guard makes revocation
// idempotent under concurrent calls.
func (s *PostgresStore) Revoke(ctx context.Context, id uuid.UUID, organizationID string) (*Token, bool, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if t.OrganizationID != organizationID {
		return nil, false, ErrWrongOrganization
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE gateway_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return nil, false, err
	}
	revokedNow := tag.RowsAffected() > 0

	t, err = s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return t, revokedNow, nil
}

const tokenSelect = `
	SELECT id, organization_id, artifact_id, artifact_type, loa_level,
	       scope, bundle_version, issued_for, issuer_id, issued_at, expires_at, revoked_at
	FROM gateway_tokens`

func scanToken(rows pgx.Rows) (*Token, error) {
	t := &Token{}
	err := rows.Scan(
		&t.ID, &t.OrganizationID, &t.ArtifactID, &t.ArtifactType, &t.LoaLevel,
		&t.Scope, &t.BundleVersion, &t.IssuedFor, &t.IssuerID, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan gateway token: %w", err)
	}
	return t, nil
}
