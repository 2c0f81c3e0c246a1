// Package config loads and validates application configuration from a
// YAML file and ONCORISK_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/oncorisk-engine/internal/domain"
)

// Manager loads and holds the application configuration using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, env, and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/oncorisk-engine/")

	viper.SetEnvPrefix("ONCORISK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars suffice.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.rate_limit", 10.0)
	viper.SetDefault("server.rate_burst", 20)

	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.redis_url", "redis://localhost:6379")
	viper.SetDefault("store.pool_size", 10)
	viper.SetDefault("store.pool_timeout", "4s")
	viper.SetDefault("store.max_retries", 3)
	viper.SetDefault("store.breaker_enabled", true)
	viper.SetDefault("store.breaker_timeout", "30s")

	viper.SetDefault("archive.backend", "sqlite")
	viper.SetDefault("archive.sqlite_path", "./data/results.db")
	viper.SetDefault("archive.postgres_url", "")

	viper.SetDefault("engine.inactivity_window", "24h")
	viper.SetDefault("engine.results_retention", "168h")
	viper.SetDefault("engine.question_budgets", map[string]int{
		"genetic_screening":     15,
		"epigenetic_assessment": 12,
		"comprehensive":         25,
	})
	viper.SetDefault("engine.tier_thresholds", []float64{0.10, 0.30, 0.60})
	viper.SetDefault("engine.population_sigma", 0.5)
	viper.SetDefault("engine.snapshot_cache_size", 1024)

	viper.SetDefault("catalog.path", "./config/catalog.json")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration.
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetEngineConfig returns engine configuration.
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// Reload reloads the configuration.
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Store.Backend {
	case "memory":
	case "redis":
		if config.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis store backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", config.Store.Backend)
	}

	switch config.Archive.Backend {
	case "sqlite":
		if config.Archive.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite archive backend")
		}
	case "postgres":
		if config.Archive.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres archive backend")
		}
	case "none":
	default:
		return fmt.Errorf("unknown archive backend: %s", config.Archive.Backend)
	}

	if config.Engine.InactivityWindow <= 0 {
		return fmt.Errorf("inactivity window must be positive")
	}
	if len(config.Engine.TierThresholds) != 3 {
		return fmt.Errorf("tier thresholds must list exactly three cut points")
	}
	for i := 1; i < len(config.Engine.TierThresholds); i++ {
		if config.Engine.TierThresholds[i] <= config.Engine.TierThresholds[i-1] {
			return fmt.Errorf("tier thresholds must be strictly ascending")
		}
	}

	if config.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
