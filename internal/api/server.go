// Package api exposes the questionnaire engine over HTTP. Handlers are
// thin: they translate between JSON and the session state machine, and
// map the engine's error taxonomy onto status codes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oncorisk-engine/internal/archive"
	"github.com/oncorisk-engine/internal/domain"
	"github.com/oncorisk-engine/internal/knowledge"
	"github.com/oncorisk-engine/internal/session"
)

// Server represents the HTTP server.
type Server struct {
	config    *domain.Config
	logger    *logrus.Logger
	machine   *session.Machine
	catalog   *knowledge.Catalog
	analytics *archive.Analytics

	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance. analytics may be nil
// when no PostgreSQL archive is configured.
func NewServer(cfg *domain.Config, logger *logrus.Logger, machine *session.Machine, catalog *knowledge.Catalog, analytics *archive.Analytics) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(rateLimitMiddleware(&cfg.Server, logger))

	s := &Server{
		config:    cfg,
		logger:    logger,
		machine:   machine,
		catalog:   catalog,
		analytics: analytics,
		router:    router,
	}
	s.setupRoutes()
	return s
}

// Start starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := &s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/sessions", s.handleStartSession)
		v1.POST("/sessions/:id/answers", s.handleAnswer)
		v1.POST("/sessions/:id/skips", s.handleSkip)
		v1.POST("/sessions/:id/pause", s.handlePause)
		v1.POST("/sessions/:id/resume", s.handleResume)
		v1.POST("/sessions/:id/complete", s.handleComplete)
		v1.GET("/sessions/:id/results", s.handleResults)
		v1.GET("/sessions/:id/progress", s.handleProgress)
		v1.GET("/sessions/:id/watch", s.handleWatch)

		v1.GET("/results/:id", s.handleArchivedResults)
		v1.GET("/analytics/summary", s.handleAnalyticsSummary)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now(),
		"catalog_version": s.catalog.Version(),
	})
}
