// Package api exposes the trading assistant over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"crypto-trading-assistant/internal/bot"
	"crypto-trading-assistant/internal/campaign"
	"crypto-trading-assistant/internal/database"
	"crypto-trading-assistant/internal/engine"
	"crypto-trading-assistant/internal/goals"
	"crypto-trading-assistant/internal/ledger"
	"crypto-trading-assistant/internal/policy"
	"crypto-trading-assistant/internal/portfolio"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowOrigins   []string
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	rateLimiter *RateLimiter
	logger      zerolog.Logger

	bot        *bot.Bot
	decisions  engine.DecisionLog
	tracker    *goals.Tracker
	policies   *policy.Store
	campaigns  *campaign.Manager
	led        *ledger.Ledger
	portfolios *portfolio.Provider
	repo       *database.Repository
	db         *database.DB
	loc        *time.Location
}

// NewServer creates a new API server
func NewServer(
	config ServerConfig,
	b *bot.Bot,
	decisions engine.DecisionLog,
	tracker *goals.Tracker,
	policies *policy.Store,
	campaigns *campaign.Manager,
	led *ledger.Ledger,
	portfolios *portfolio.Provider,
	repo *database.Repository,
	db *database.DB,
	loc *time.Location,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if loc == nil {
		loc = time.UTC
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logger.With().Str("component", "api").Logger(),
		bot:         b,
		decisions:   decisions,
		tracker:     tracker,
		policies:    policies,
		campaigns:   campaigns,
		led:         led,
		portfolios:  portfolios,
		repo:        repo,
		db:          db,
		loc:         loc,
	}

	server.setupRoutes()

	return server
}

// rateLimitMiddleware creates a middleware that rate limits requests by endpoint
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests to this endpoint. Please slow down.",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/decisions", s.handleGetDecisions)
		api.GET("/portfolio", s.handleGetPortfolio)

		api.GET("/goals", s.handleGetGoals)
		api.PUT("/goals/targets", s.handleUpdateGoalTargets)

		api.GET("/risk/policy", s.handleGetPolicy)
		api.POST("/risk/policy", s.handleUpdatePolicy)
		api.GET("/risk/metrics", s.handleRiskMetrics)
		api.GET("/ledger", s.handleGetLedger)
		api.POST("/ledger/reset-losses", s.handleResetLosses)

		api.GET("/bot/status", s.handleBotStatus)
		api.POST("/bot/start", s.handleBotStart)
		api.POST("/bot/stop", s.handleBotStop)

		api.POST("/emergency-stop", s.handleEmergencyStop)
		api.POST("/emergency-stop/clear", s.handleClearEmergencyStop)

		api.GET("/campaigns", s.handleListCampaigns)
		api.POST("/campaigns", s.handleCreateCampaign)
		api.GET("/campaigns/:id", s.handleGetCampaign)
		api.POST("/campaigns/:id/execute", s.handleExecuteCampaign)
		api.POST("/campaigns/:id/pause", s.handlePauseCampaign)
		api.POST("/campaigns/:id/resume", s.handleResumeCampaign)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"halted":   s.bot.Status().Halted,
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
