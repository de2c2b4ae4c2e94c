package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secure-knaight/governance-core/internal/ledger"
)

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateRequest implements Store.
func (s *PostgresStore) CreateRequest(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	reviewers := req.Reviewers
	if reviewers == nil {
		reviewers = []string{}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO approval_requests (
			id, organization_id, artifact_id, artifact_type, loa_level,
			status, required_facets, priority, requestor_id, request_reason,
			due_date, reviewers, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`,
		req.ID, req.OrganizationID, req.ArtifactID, req.ArtifactType, req.LoaLevel,
		req.Status, facetsToStrings(req.RequiredFacets), req.Priority, req.RequestorID, req.RequestReason,
		req.DueDate, reviewers, req.CreatedAt, req.UpdatedAt,
	)
	return err
}

// GetRequest implements Store.
func (s *PostgresStore) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	rows, err := s.db.Query(ctx, requestSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrRequestNotFound
	}
	return scanRequest(rows)
}

// UpdateRequestStatus implements Store. The status guard in the UPDATE keeps
// a concurrent vote from overwriting a terminal decision.
func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status Status) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE approval_requests SET status = $2, updated_at = $3
		 WHERE id = $1 AND status NOT IN ('APPROVED', 'REJECTED')`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ListByArtifact implements Store.
func (s *PostgresStore) ListByArtifact(ctx context.Context, artifactType ledger.ArtifactType, artifactID string) ([]*Request, error) {
	rows, err := s.db.Query(ctx,
		requestSelect+` WHERE artifact_type = $1 AND artifact_id = $2 ORDER BY created_at DESC`,
		artifactType, artifactID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CountPending implements Store.
func (s *PostgresStore) CountPending(ctx context.Context, artifactType ledger.ArtifactType, artifactID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM approval_requests
		 WHERE artifact_type = $1 AND artifact_id = $2 AND status = 'PENDING'`,
		artifactType, artifactID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending approvals: %w", err)
	}
	return n, nil
}

// HasApproved implements Store.
func (s *PostgresStore) HasApproved(ctx context.Context, organizationID, artifactID string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM approval_requests
		 WHERE organization_id = $1 AND artifact_id = $2 AND status = 'APPROVED'`,
		organizationID, artifactID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check artifact approval: %w", err)
	}
	return n > 0, nil
}

// UpsertVote implements Store. The unique index on
// (approval_request_id, facet, reviewer_id) makes the upsert race-free.
func (s *PostgresStore) UpsertVote(ctx context.Context, v *Vote) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(ctx, `
		INSERT INTO approval_votes (id, approval_request_id, facet, reviewer_id, vote, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (approval_request_id, facet, reviewer_id)
		DO UPDATE SET vote = EXCLUDED.vote, comment = EXCLUDED.comment, created_at = EXCLUDED.created_at`,
		v.ID, v.RequestID, v.Facet, v.ReviewerID, v.Vote, v.Comment, v.CreatedAt,
	)
	return err
}

// VotesByRequest implements Store.
func (s *PostgresStore) VotesByRequest(ctx context.Context, requestID uuid.UUID) ([]*Vote, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, approval_request_id, facet, reviewer_id, vote, comment, created_at
		 FROM approval_votes WHERE approval_request_id = $1 ORDER BY created_at ASC`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Vote
	for rows.Next() {
		v := &Vote{}
		if err := rows.Scan(&v.ID, &v.RequestID, &v.Facet, &v.ReviewerID, &v.Vote, &v.Comment, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetPolicy implements Store.
func (s *PostgresStore) GetPolicy(ctx context.Context, organizationID string, artifactType ledger.ArtifactType) (*LoaPolicy, error) {
	p := &LoaPolicy{}
	var facets []string
	err := s.db.QueryRow(ctx,
		`SELECT organization_id, artifact_type, min_reviewers, required_facets
		 FROM loa_policies WHERE organization_id = $1 AND artifact_type = $2`,
		organizationID, artifactType,
	).Scan(&p.OrganizationID, &p.ArtifactType, &p.MinReviewers, &facets)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get loa policy: %w", err)
	}
	p.RequiredFacets = stringsToFacets(facets)
	return p, nil
}

// PutPolicy implements Store.
func (s *PostgresStore) PutPolicy(ctx context.Context, p *LoaPolicy) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO loa_policies (organization_id, artifact_type, min_reviewers, required_facets)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, artifact_type)
		DO UPDATE SET min_reviewers = EXCLUDED.min_reviewers, required_facets = EXCLUDED.required_facets`,
		p.OrganizationID, p.ArtifactType, p.MinReviewers, facetsToStrings(p.RequiredFacets),
	)
	return err
}

// OrgStats implements Store.
func (s *PostgresStore) OrgStats(ctx context.Context, organizationID string) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'PENDING'),
		       COUNT(*) FILTER (WHERE status = 'APPROVED'),
		       COUNT(*) FILTER (WHERE status = 'REJECTED')
		FROM approval_requests WHERE organization_id = $1`,
		organizationID,
	).Scan(&stats.Total, &stats.Pending, &stats.Approved, &stats.Rejected)
	if err != nil {
		return nil, fmt.Errorf("org approval stats: %w", err)
	}
	return stats, nil
}

const requestSelect = `
	SELECT id, organization_id, artifact_id, artifact_type, loa_level,
	       status, required_facets, priority, requestor_id, request_reason,
	       due_date, reviewers, created_at, updated_at
	FROM approval_requests`

func scanRequest(rows pgx.Rows) (*Request, error) {
	req := &Request{}
	var facets []string
	err := rows.Scan(
		&req.ID, &req.OrganizationID, &req.ArtifactID, &req.ArtifactType, &req.LoaLevel,
		&req.Status, &facets, &req.Priority, &req.RequestorID, &req.RequestReason,
		&req.DueDate, &req.Reviewers, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan approval request: %w", err)
	}
	req.RequiredFacets = stringsToFacets(facets)
	return req, nil
}

func facetsToStrings(facets []Facet) []string {
	out := make([]string, len(facets))
	for i, f := range facets {
		out[i] = string(f)
	}
	return out
}

func stringsToFacets(vals []string) []Facet {
	out := make([]Facet, len(vals))
	for i, v := range vals {
		out[i] = Facet(v)
	}
	return out
}
