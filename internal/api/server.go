package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"binportal/internal/api/handlers"
	"binportal/internal/browser"
	"binportal/internal/cache"
	"binportal/internal/config"
	"binportal/internal/councils"
	"binportal/internal/db"
	"binportal/internal/worker"
	"binportal/pkg/logger"
)

// Server represents the API server
type Server struct {
	config         *config.Config
	router         *gin.Engine
	db             *db.Postgres
	cache          *cache.Redis
	browser        *browser.Manager
	workerPool     *worker.WorkerPool
	logger         *logger.Logger
	httpServer     *http.Server
	lookupHandlers *handlers.LookupHandlers
}

// NewServer creates a new API server instance
func NewServer(cfg *config.Config, db *db.Postgres, cache *cache.Redis, browser *browser.Manager,
	registry *councils.Registry, workerPool *worker.WorkerPool, logger *logger.Logger) *Server {

	// Set Gin to release mode in production
	if cfg.API.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:     cfg,
		db:         db,
		cache:      cache,
		browser:    browser,
		workerPool: workerPool,
		logger:     logger,
	}

	server.lookupHandlers = handlers.NewLookupHandlers(db, cache, workerPool, registry, logger, cfg)

	server.setupRouter()

	return server
}

// Start starts the API server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.API.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  s.config.API.IdleTimeout,
	}

	s.logger.Info().Msgf("Starting API server on port %s", s.config.API.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// setupRouter initializes the Gin router and routes
func (s *Server) setupRouter() {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(s.loggerMiddleware())
	router.Use(s.corsMiddleware())

	router.GET("/health", s.handleHealthCheck)

	// The route names mirror the WordPress plugin's expectations.
	router.GET("/get_councils", s.lookupHandlers.GetCouncils)
	router.POST("/get_bins", s.lookupHandlers.GetBins)
	router.GET("/collections.ics", s.lookupHandlers.GetCalendar)

	lookups := router.Group("/lookups")
	{
		lookups.GET("", s.lookupHandlers.ListLookups)
		lookups.GET("/:request_id", s.lookupHandlers.GetLookup)
	}

	s.router = router
}

// Middleware functions

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Str("user-agent", c.Request.UserAgent()).
			Int("body-size", c.Writer.Size()).
			Send()
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Basic health check handler
func (s *Server) handleHealthCheck(c *gin.Context) {
	status := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}

	if err := s.db.Ping(c); err != nil {
		status["status"] = "degraded"
		status["database_error"] = err.Error()
	}

	if err := s.cache.Ping(c); err != nil {
		status["status"] = "degraded"
		status["cache_error"] = err.Error()
	} else if depth, err := s.cache.QueueLength(c); err == nil {
		status["queue_depth"] = depth
	}

	// The browser starts lazily; only probe it once it is up.
	if s.browser.ControlURL() != "" {
		if err := s.browser.Ping(c); err != nil {
			status["status"] = "degraded"
			status["browser_error"] = err.Error()
		}
	}

	c.JSON(http.StatusOK, status)
}
