package bundle

import (
	"context"
	"fmt"
	"hash/fnv"
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

// orgLockKey maps an organization ID to an advisory lock key so that version
// assignment and activation serialize per organization.
func orgLockKey(organizationID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("bundle:"))
	h.Write([]byte(organizationID))
	return int64(h.Sum64())
}

// Create implements Store. Version assignment happens under a per-org
// advisory lock so two concurrent compiles can never claim the same version.
func (s *PostgresStore) Create(ctx context.Context, b *Bundle) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Status = StatusDraft
	b.CreatedAt = time.Now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", orgLockKey(b.OrganizationID)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM policy_bundles WHERE organization_id = $1`,
		b.OrganizationID,
	).Scan(&b.Version); err != nil {
		return fmt.Errorf("next bundle version: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO policy_bundles (
			id, organization_id, version, bundle_hash, storage_ref,
			bundle_size, status, signature, signer_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.OrganizationID, b.Version, b.BundleHash, b.StorageRef,
		b.BundleSize, b.Status, b.Signature, b.SignerID, b.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert bundle: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bundle tx: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	rows, err := s.db.Query(ctx, bundleSelect+` WHERE id = $1`, id)
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
	return scanBundle(rows)
}

// Publish implements Store. The status guard in the UPDATE makes the
// DRAFT → PUBLISHED transition race-free.
func (s *PostgresStore) Publish(ctx context.Context, id uuid.UUID, signature, signerID string) (*Bundle, error) {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE policy_bundles SET
			status = 'PUBLISHED', signature = $2, signer_id = $3, published_at = $4
		WHERE id = $1 AND status = 'DRAFT'`,
		id, signature, signerID, now,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

// Activate implements Store. Demoting the previous ACTIVE bundle and
// promoting the new one run inside one transaction under the org lock; a
// crash between the two steps rolls both back.
func (s *PostgresStore) Activate(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", orgLockKey(b.OrganizationID)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE policy_bundles SET status = 'RETIRED', retired_at = $2
		WHERE organization_id = $1 AND status = 'ACTIVE'`,
		b.OrganizationID, now,
	); err != nil {
		return nil, fmt.Errorf("retire previous bundle: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE policy_bundles SET status = 'ACTIVE', activated_at = $2
		WHERE id = $1 AND status = 'PUBLISHED'`,
		id, now,
	)
	if err != nil {
		return nil, fmt.Errorf("activate bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInvalidTransition
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit activation tx: %w", err)
	}
	return s.Get(ctx, id)
}

// Retire implements Store.
func (s *PostgresStore) Retire(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE policy_bundles SET status = 'RETIRED', retired_at = $2
		WHERE id = $1 AND status IN ('ACTIVE', 'PUBLISHED')`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

// ActiveForOrg implements Store.
func (s *PostgresStore) ActiveForOrg(ctx context.Context, organizationID string) (*Bundle, error) {
	rows, err := s.db.Query(ctx,
		bundleSelect+` WHERE organization_id = $1 AND status = 'ACTIVE'`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoActiveBundle
	}
	return scanBundle(rows)
}

// ListActive implements Store.
func (s *PostgresStore) ListActive(ctx context.Context, organizationID string) ([]*Bundle, error) {
	rows, err := s.db.Query(ctx,
		bundleSelect+` WHERE status = 'ACTIVE' AND ($1 = '' OR organization_id = $1)
		 ORDER BY organization_id ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const bundleSelect = `
	SELECT id, organization_id, version, bundle_hash, storage_ref, bundle_size,
	       status, signature, signer_id, published_at, activated_at, retired_at, created_at
	FROM policy_bundles`

func scanBundle(rows pgx.Rows) (*Bundle, error) {
	b := &Bundle{}
	err := rows.Scan(
		&b.ID, &b.OrganizationID, &b.Version, &b.BundleHash, &b.StorageRef, &b.BundleSize,
		&b.Status, &b.Signature, &b.SignerID, &b.PublishedAt, &b.ActivatedAt, &b.RetiredAt, &b.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan bundle: %w", err)
	}
	return b, nil
}
