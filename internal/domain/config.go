package domain

import "time"

// Config is the main application configuration, loaded by the config
// manager from YAML and environment overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// RateLimit is the per-client sustained request rate; RateBurst the
	// token-bucket burst size.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// StoreConfig selects and tunes the session store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend     string        `mapstructure:"backend"`
	RedisURL    string        `mapstructure:"redis_url"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`

	// BreakerEnabled wraps the store in a circuit breaker so a failing
	// backend degrades to fast errors instead of piled-up timeouts.
	BreakerEnabled bool          `mapstructure:"breaker_enabled"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

// ArchiveConfig selects the completed-results archive backend.
type ArchiveConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// EngineConfig tunes the questionnaire engine itself. All numeric risk
// parameters are data, never hard-coded per gene.
type EngineConfig struct {
	// InactivityWindow is the session expiry window enforced by the
	// store TTL and checked logically from last activity.
	InactivityWindow time.Duration `mapstructure:"inactivity_window"`

	// ResultsRetention is how long archived results outlive the session.
	ResultsRetention time.Duration `mapstructure:"results_retention"`

	// QuestionBudgets caps questions per questionnaire type.
	QuestionBudgets map[string]int `mapstructure:"question_budgets"`

	// TierThresholds are the ascending posterior-probability cut points
	// for elevated, urgent, and critical.
	TierThresholds []float64 `mapstructure:"tier_thresholds"`

	// PopulationSigma is the default log-odds spread reported for genes
	// with no contributing evidence.
	PopulationSigma float64 `mapstructure:"population_sigma"`

	// SnapshotCacheSize bounds the in-process LRU of derived snapshots.
	SnapshotCacheSize int `mapstructure:"snapshot_cache_size"`
}

// CatalogConfig locates the knowledge-base document.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
