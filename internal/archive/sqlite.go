package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oncorisk-engine/internal/domain"
)

// SQLiteStore implements the archive Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite archive store. It creates the
// database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		session_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		catalog_version TEXT NOT NULL DEFAULT '',
		answered_count INTEGER NOT NULL,
		overall_score REAL NOT NULL,
		overall_tier TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		completed_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results(expires_at);
	CREATE INDEX IF NOT EXISTS idx_results_overall_tier ON results(overall_tier);
	`
	_, err := db.Exec(schema)
	return err
}

// Save stores or replaces the archived result for a session.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (
			session_id, type, catalog_version, answered_count,
			overall_score, overall_tier, snapshot, completed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			type = excluded.type,
			catalog_version = excluded.catalog_version,
			answered_count = excluded.answered_count,
			overall_score = excluded.overall_score,
			overall_tier = excluded.overall_tier,
			snapshot = excluded.snapshot,
			completed_at = excluded.completed_at,
			expires_at = excluded.expires_at
	`,
		rec.SessionID,
		string(rec.Type),
		rec.CatalogVersion,
		rec.AnsweredCount,
		rec.OverallScore,
		string(rec.OverallTier),
		string(snapshot),
		rec.CompletedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// Get retrieves an archived result by session ID.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, type, catalog_version, answered_count,
			overall_score, overall_tier, snapshot, completed_at, expires_at
		FROM results
		WHERE session_id = ?
	`, sessionID)

	rec := &Record{}
	var typ, tier, snapshot string
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
	if err := json.Unmarshal([]byte(snapshot), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", sessionID, err)
	}
	return rec, nil
}

// Purge deletes results whose retention deadline has passed.
func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM results WHERE expires_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge results: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
