package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/oncorisk-engine/internal/domain"
)

// PostgresStore implements the archive Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection. The results table must
// already exist; see EnsureSchema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a pooled connection from a URL and
// ensures the schema exists.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the results table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS results (
			session_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			catalog_version TEXT NOT NULL DEFAULT '',
			answered_count INTEGER NOT NULL,
			overall_score DOUBLE PRECISION NOT NULL,
			overall_tier TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results(expires_at);
		CREATE INDEX IF NOT EXISTS idx_results_overall_tier ON results(overall_tier);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save stores or replaces the archived result for a session.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (
			session_id, type, catalog_version, answered_count,
			overall_score, overall_tier, snapshot, completed_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			type = EXCLUDED.type,
			catalog_version = EXCLUDED.catalog_version,
			answered_count = EXCLUDED.answered_count,
			overall_score = EXCLUDED.overall_score,
			overall_tier = EXCLUDED.overall_tier,
			snapshot = EXCLUDED.snapshot,
			completed_at = EXCLUDED.completed_at,
			expires_at = EXCLUDED.expires_at
	`,
		rec.SessionID,
		string(rec.Type),
		rec.CatalogVersion,
		rec.AnsweredCount,
		rec.OverallScore,
		string(rec.OverallTier),
		snapshot,
		rec.CompletedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// Get retrieves an archived result by session ID.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, type, catalog_version, answered_count,
			overall_score, overall_tier, snapshot, completed_at, expires_at
		FROM results
		WHERE session_id = $1
	`, sessionID)

	rec := &Record{}
	var typ, tier string
	var snapshot []byte
	err := row.Scan(
		&rec.SessionID, &typ, &rec.CatalogVersion, &rec.AnsweredCount,
		&rec.OverallScore, &tier, &snapshot, &rec.CompletedAt, &rec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan result: %w", err)
	}

	rec.Type = domain.QuestionnaireType(typ)
	rec.OverallTier = domain.RiskTier(tier)
	if err := json.Unmarshal(snapshot, &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", sessionID, err)
	}
	return rec, nil
}

// Purge deletes results whose retention deadline has passed.
func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM results WHERE expires_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge results: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
