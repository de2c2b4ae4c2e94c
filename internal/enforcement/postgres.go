package enforcement

import (
	"context"
	"fmt"

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

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, c *Call) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO enforcement_calls (
			id, organization_id, caller_id, method, path, decision, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OrganizationID, c.CallerID, c.Method, c.Path, c.Decision, c.Reason, c.CreatedAt,
	)
	return err
}

// ListByOrganization implements Store.
func (s *PostgresStore) ListByOrganization(ctx context.Context, organizationID string, limit int) ([]*Call, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, organization_id, caller_id, method, path, decision, reason, created_at
		FROM enforcement_calls
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		organizationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*Call
	for rows.Next() {
		c := &Call{}
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.CallerID, &c.Method, &c.Path,
			&c.Decision, &c.Reason, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan enforcement call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
