// Package api exposes the selection engine, presets, history and the
// optimisation advisor over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
	"github.com/mbs-selection-server/internal/middleware"
	"github.com/mbs-selection-server/internal/service"
	"github.com/mbs-selection-server/internal/store"
)

// Server represents the HTTP server.
type Server struct {
	cfg      *domain.Config
	logger   *logrus.Logger
	router   *gin.Engine
	server   *http.Server
	sessions *SessionManager
	advisor  *service.Advisor
	presets  *store.PresetStore
	history  *store.HistoryStore
}

// NewServer creates a new HTTP server instance.
func NewServer(cfg *domain.Config, sessions *SessionManager, advisor *service.Advisor, presets *store.PresetStore, history *store.HistoryStore, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AuditLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(corsMiddleware())

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   router,
		sessions: sessions,
		advisor:  advisor,
		presets:  presets,
		history:  history,
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Expire idle sessions in the background.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sessions.Sweep(2 * time.Hour); n > 0 {
					s.logger.WithField("expired", n).Debug("Swept idle sessions")
				}
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/live", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/sessions", s.handleCreateSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)

		sess := v1.Group("/sessions/:id")
		{
			sess.POST("/analyze", s.handleAnalyze)
			sess.GET("/recommendations", s.handleRecommendations)
			sess.GET("/code-states", s.handleCodeStates)

			sess.GET("/selection", s.handleSummary)
			sess.GET("/selection/snapshot", s.handleSnapshot)
			sess.GET("/selection/validation", s.handleValidation)
			sess.GET("/selection/validate/:code", s.handleValidateCode)
			sess.POST("/selection/select", s.handleSelect)
			sess.POST("/selection/deselect", s.handleDeselect)
			sess.POST("/selection/toggle", s.handleToggle)
			sess.POST("/selection/clear", s.handleClear)

			sess.POST("/bulk/select-all", s.handleBulkSelectAll)
			sess.POST("/bulk/select-tier", s.handleBulkSelectTier)
			sess.POST("/bulk/compatible", s.handleBulkCompatible)
			sess.POST("/bulk/invert", s.handleBulkInvert)

			sess.GET("/suggestions/:type", s.handleSuggestion)
			sess.POST("/suggestions/apply", s.handleApplySuggestion)

			sess.POST("/compare", s.handleCompare)
			sess.GET("/export", s.handleExport)

			sess.POST("/presets", s.handleSavePreset)
			sess.POST("/presets/:presetID/load", s.handleLoadPreset)

			sess.GET("/watch", s.handleWatch)
		}

		v1.GET("/presets", s.handleListPresets)
		v1.GET("/presets/:presetID", s.handleGetPreset)
		v1.PUT("/presets/:presetID", s.handleUpdatePreset)
		v1.DELETE("/presets/:presetID", s.handleDeletePreset)
		v1.POST("/presets/:presetID/duplicate", s.handleDuplicatePreset)

		v1.GET("/history", s.handleHistory)
		v1.DELETE("/history", s.handleClearHistory)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	})
}

func (s *Server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"sessions": s.sessions.Len(),
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
