package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// TierCount is one row of the tier distribution.
type TierCount struct {
	Tier  string `json:"tier"`
	Count int64  `json:"count"`
}

// Summary aggregates the archive for reporting: how many assessments
// completed, how they distribute across tiers, and the mean blended
// score per questionnaire type.
type Summary struct {
	TotalResults int64              `json:"total_results"`
	Tiers        []TierCount        `json:"tiers"`
	MeanScores   map[string]float64 `json:"mean_scores"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// Analytics reads aggregate statistics from a PostgreSQL archive. It
// runs on its own pgx pool so reporting queries never contend with the
// archive writer's connections.
type Analytics struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewAnalytics creates a pooled reader for the archive database.
func NewAnalytics(ctx context.Context, databaseURL string, logger *logrus.Logger) (*Analytics, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolConfig.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"max_conns": poolConfig.MaxConns,
	}).Info("Analytics connection pool established")
	return &Analytics{pool: pool, log: logger}, nil
}

// Summarize computes the current archive-wide statistics.
func (a *Analytics) Summarize(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		MeanScores:  make(map[string]float64),
		GeneratedAt: time.Now(),
	}

	if err := a.pool.QueryRow(ctx, "SELECT COUNT(*) FROM results").Scan(&summary.TotalResults); err != nil {
		return nil, fmt.Errorf("counting results: %w", err)
	}

	rows, err := a.pool.Query(ctx, `
		SELECT overall_tier, COUNT(*)
		FROM results
		GROUP BY overall_tier
		ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tier distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TierCount
		if err := rows.Scan(&tc.Tier, &tc.Count); err != nil {
			return nil, fmt.Errorf("scanning tier row: %w", err)
		}
		summary.Tiers = append(summary.Tiers, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tier rows: %w", err)
	}

	scoreRows, err := a.pool.Query(ctx, `
		SELECT type, AVG(overall_score)
		FROM results
		GROUP BY type
	`)
	if err != nil {
		return nil, fmt.Errorf("querying mean scores: %w", err)
	}
	defer scoreRows.Close()
	for scoreRows.Next() {
		var typ string
		var mean float64
		if err := scoreRows.Scan(&typ, &mean); err != nil {
			return nil, fmt.Errorf("scanning score row: %w", err)
		}
		summary.MeanScores[typ] = mean
	}
	return summary, scoreRows.Err()
}

// Health checks the analytics pool.
func (a *Analytics) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close closes the connection pool.
func (a *Analytics) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.log.Info("Analytics connection pool closed")
	}
}
