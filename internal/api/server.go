package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/variant-calibration-server/internal/domain"
	"github.com/variant-calibration-server/internal/middleware"
	"github.com/variant-calibration-server/internal/setup"
)

// Server represents the HTTP server
type Server struct {
	cfg    domain.ServerConfig
	app    *setup.App
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, app *setup.App) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(requestIDMiddleware())
	router.Use(middleware.RequestLogger(app.Logger))

	server := &Server{
		cfg:    cfg.Server,
		app:    app,
		router: router,
	}
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
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

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/variant/score", s.handleScoreVariant)
		v1.POST("/gene/calibrate", s.handleCalibrateGene)
		v1.POST("/gene/preload", s.handlePreloadGenes)
		v1.GET("/gene/:gene/stats", s.handleGeneStats)
		v1.GET("/compound/percentile", s.handleCompoundPercentile)
		v1.POST("/compound/calibration", s.handleBuildCompoundCalibration)
		v1.POST("/pathways/aggregate", s.handleAggregatePathways)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now(),
		"cache_stats": s.app.GeneCache.Stats(),
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}
