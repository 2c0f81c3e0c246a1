package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "sqlite", cfg.Archive.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Engine.InactivityWindow)
	assert.Equal(t, 168*time.Hour, cfg.Engine.ResultsRetention)
	assert.Equal(t, []float64{0.10, 0.30, 0.60}, cfg.Engine.TierThresholds)
	assert.Equal(t, 15, cfg.Engine.QuestionBudgets["genetic_screening"])
	assert.Equal(t, 12, cfg.Engine.QuestionBudgets["epigenetic_assessment"])
	assert.Equal(t, 25, cfg.Engine.QuestionBudgets["comprehensive"])
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NoError(t, m.Validate())
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Manager)
	}{
		{"bad port", func(m *Manager) { m.config.Server.Port = -1 }},
		{"unknown store backend", func(m *Manager) { m.config.Store.Backend = "etcd" }},
		{"redis without url", func(m *Manager) {
			m.config.Store.Backend = "redis"
			m.config.Store.RedisURL = ""
		}},
		{"unknown archive backend", func(m *Manager) { m.config.Archive.Backend = "s3" }},
		{"postgres without url", func(m *Manager) {
			m.config.Archive.Backend = "postgres"
			m.config.Archive.PostgresURL = ""
		}},
		{"non-positive inactivity window", func(m *Manager) { m.config.Engine.InactivityWindow = 0 }},
		{"wrong threshold count", func(m *Manager) { m.config.Engine.TierThresholds = []float64{0.5} }},
		{"non-ascending thresholds", func(m *Manager) {
			m.config.Engine.TierThresholds = []float64{0.3, 0.3, 0.6}
		}},
		{"missing catalog path", func(m *Manager) { m.config.Catalog.Path = "" }},
		{"bad log level", func(m *Manager) { m.config.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager()
			require.NoError(t, err)
			tt.mutate(m)
			assert.Error(t, m.Validate())
		})
	}
}
