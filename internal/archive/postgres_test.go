package archive

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncorisk-engine/internal/domain"
)

// getTestDB returns a database connection for testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	store := &PostgresStore{db: db}
	require.NoError(t, store.EnsureSchema(context.Background()))

	_, err = db.Exec("DELETE FROM results")
	require.NoError(t, err)
	return db
}

func TestPostgresSaveAndGet(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	rec := testRecord("pg-s1")
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "pg-s1")
	require.NoError(t, err)
	assert.Equal(t, rec.OverallTier, got.OverallTier)
	assert.Equal(t, rec.Snapshot.Genes, got.Snapshot.Genes)
}

func TestPostgresUpsert(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	rec := testRecord("pg-s1")
	require.NoError(t, store.Save(ctx, rec))
	rec.OverallTier = domain.TierCritical
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "pg-s1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierCritical, got.OverallTier)

	var count int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM results").Scan(&count))
	assert.Equal(t, int64(1), count)
}

func TestPostgresPurge(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	old := testRecord("pg-old")
	old.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, old))

	n, err := store.Purge(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
