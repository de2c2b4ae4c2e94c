//go:build integration

package bundle_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/secure-knaight/governance-core/internal/bundle"
)

func setupPostgresStore(t *testing.T) *bundle.PostgresStore {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set — skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	t.Cleanup(db.Close)

	// Clean bundles table for deterministic tests
	db.Exec(ctx, "DELETE FROM policy_bundles")

	return bundle.NewPostgresStore(db)
}

// A freshly compiled DRAFT row has no signature yet; it must still scan
// cleanly on every read path up to and through publication.
func TestPostgresStore_draftLifecycle(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	b := &bundle.Bundle{
		OrganizationID: "org-it",
		BundleHash:     "0ba904eae8773b70c75333db4de2f3ac45a8ad4ddba1b242f0b3cfc199391dd8",
		StorageRef:     "org-it/0ba904ea.tar.gz",
		BundleSize:     512,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Version != 1 {
		t.Fatalf("first bundle version = %d, want 1", b.Version)
	}

	got, err := store.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get draft: %v", err)
	}
	if got.Status != bundle.StatusDraft || got.Signature != "" || got.SignerID != "" {
		t.Fatalf("draft row = %+v", got)
	}

	published, err := store.Publish(ctx, b.ID, "sig-bytes", "reviewer-1")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if published.Status != bundle.StatusPublished || published.Signature != "sig-bytes" {
		t.Fatalf("published row = %+v", published)
	}

	active, err := store.Activate(ctx, b.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if active.Status != bundle.StatusActive || active.ActivatedAt == nil {
		t.Fatalf("active row = %+v", active)
	}
}
