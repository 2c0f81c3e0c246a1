package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oncorisk-engine/internal/api"
	"github.com/oncorisk-engine/internal/archive"
	"github.com/oncorisk-engine/internal/config"
	"github.com/oncorisk-engine/internal/domain"
	"github.com/oncorisk-engine/internal/knowledge"
	"github.com/oncorisk-engine/internal/risk"
	"github.com/oncorisk-engine/internal/selector"
	"github.com/oncorisk-engine/internal/session"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(&cfg.Logging)

	catalog, err := knowledge.Load(cfg.Catalog.Path)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to load catalog")
	}
	logger.WithField("version", catalog.Version()).Info("Catalog loaded")

	store, err := newStore(cfg, logger)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to create session store")
	}
	defer store.Close()

	archiver, analytics, err := newArchive(cfg, logger)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to create archive")
	}
	if archiver != nil {
		defer archiver.Close()
	}
	if analytics != nil {
		defer analytics.Close()
	}

	model := risk.NewModel(logger, catalog, &cfg.Engine)
	sel := selector.New(logger, catalog, &cfg.Engine)
	machine, err := session.NewMachine(logger, store, catalog, model, sel, archiver, &cfg.Engine)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to create state machine")
	}

	server := api.NewServer(cfg, logger, machine, catalog, analytics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if archiver != nil {
		go purgeLoop(ctx, archiver, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithField("error", err.Error()).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

// purgeLoop deletes archived results past their retention deadline.
func purgeLoop(ctx context.Context, archiver archive.Store, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := archiver.Purge(ctx, time.Now())
			if err != nil {
				logger.WithField("error", err.Error()).Warn("Archive purge failed")
				continue
			}
			if n > 0 {
				logger.WithField("purged", n).Info("Purged expired archive results")
			}
		}
	}
}

func newLogger(cfg *domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

func newStore(cfg *domain.Config, logger *logrus.Logger) (domain.SessionStore, error) {
	var store domain.SessionStore
	switch cfg.Store.Backend {
	case "redis":
		redisStore, err := session.NewRedisStore(&cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		store = redisStore
		logger.Info("Using Redis session store")
	default:
		store = session.NewMemoryStore()
		logger.Info("Using in-memory session store")
	}

	if cfg.Store.BreakerEnabled && cfg.Store.Backend != "memory" {
		store = session.NewBreakerStore(store, &cfg.Store, logger)
	}
	return store, nil
}

func newArchive(cfg *domain.Config, logger *logrus.Logger) (archive.Store, *archive.Analytics, error) {
	switch cfg.Archive.Backend {
	case "sqlite":
		store, err := archive.NewSQLiteStore(cfg.Archive.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.Archive.SQLitePath).Info("Using SQLite results archive")
		return store, nil, nil
	case "postgres":
		store, err := archive.NewPostgresStoreFromURL(cfg.Archive.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		analytics, err := archive.NewAnalytics(context.Background(), cfg.Archive.PostgresURL, logger)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL results archive")
		return store, analytics, nil
	default:
		logger.Info("Results archive disabled")
		return nil, nil, nil
	}
}
