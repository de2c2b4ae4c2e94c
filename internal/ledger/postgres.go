package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresLedger persists the trust ledger to PostgreSQL.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresLedger backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// lockKey maps an artifact ID to a stable advisory lock key so that appends
// to the same artifact serialize while appends to different artifacts proceed
// concurrently.
func lockKey(artifactID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(artifactID))
	return int64(h.Sum64())
}

// Append implements Ledger.
// It acquires a per-artifact advisory lock, reads the chain tail, and inserts
// the new event, all within a single transaction. Two concurrent appends for
// one artifact can therefore never observe the same predecessor.
func (l *PostgresLedger) Append(ctx context.Context, artifactType ArtifactType, artifactID, action string, payload any) (*Event, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	hash := ContentHash(canonical)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The lock is released automatically when the transaction ends.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(artifactID)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevHash *string
	err = tx.QueryRow(ctx,
		`SELECT content_hash FROM trust_ledger_events
		 WHERE artifact_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, artifactID,
	).Scan(&prevHash)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	ev := &Event{
		ID:           uuid.New(),
		ArtifactType: artifactType,
		ArtifactID:   artifactID,
		Action:       action,
		Payload:      canonical,
		ContentHash:  hash,
		PrevHash:     prevHash,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trust_ledger_events
		   (id, artifact_type, artifact_id, action, payload, content_hash, prev_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.ArtifactType, ev.ArtifactID, ev.Action,
		ev.Payload, ev.ContentHash, ev.PrevHash, ev.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert ledger event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger event appended",
		zap.String("artifact_id", ev.ArtifactID),
		zap.String("action", ev.Action),
		zap.String("content_hash", ev.ContentHash),
	)
	return ev, nil
}

// Events implements Ledger.
func (l *PostgresLedger) Events(ctx context.Context, artifactID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, artifact_type, artifact_id, action, payload, content_hash, prev_hash, created_at
		 FROM trust_ledger_events
		 WHERE artifact_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, artifactID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Chain implements Ledger. It streams the artifact's events in creation
// order and validates the hash chain before returning them.
func (l *PostgresLedger) Chain(ctx context.Context, artifactID string) ([]*Event, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, artifact_type, artifact_id, action, payload, content_hash, prev_hash, created_at
		 FROM trust_ledger_events
		 WHERE artifact_id = $1
		 ORDER BY created_at ASC, id ASC`, artifactID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger chain: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if err := verifyChain(events); err != nil {
		l.logger.Warn("ledger chain integrity check failed",
			zap.String("artifact_id", artifactID),
			zap.Error(err),
		)
		return nil, err
	}
	return events, nil
}

// Verify implements Ledger.
func (l *PostgresLedger) Verify(ctx context.Context, artifactID string) error {
	_, err := l.Chain(ctx, artifactID)
	return err
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(
			&ev.ID, &ev.ArtifactType, &ev.ArtifactID, &ev.Action,
			&ev.Payload, &ev.ContentHash, &ev.PrevHash, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
