// Package archive persists completed assessment results beyond the
// session store's TTL, so a finished questionnaire's report outlives
// the session that produced it.
package archive

import (
	"context"
	"time"

	"github.com/oncorisk-engine/internal/domain"
)

// Record is one archived assessment result. Snapshot is the final
// derived risk state at completion; it is stored as rendered JSON so
// the archive never needs the catalog that produced it.
type Record struct {
	SessionID      string                   `json:"session_id"`
	Type           domain.QuestionnaireType `json:"type"`
	CatalogVersion string                   `json:"catalog_version"`
	AnsweredCount  int                      `json:"answered_count"`
	OverallScore   float64                  `json:"overall_score"`
	OverallTier    domain.RiskTier          `json:"overall_tier"`
	Snapshot       *domain.RiskSnapshot     `json:"snapshot"`
	CompletedAt    time.Time                `json:"completed_at"`
	ExpiresAt      time.Time                `json:"expires_at"`
}

// Store is the completed-results archive. Saving the same session twice
// replaces the record; completion is idempotent upstream.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, sessionID string) (*Record, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
