// Package api provides the HTTP and WebSocket API for the CostQ server.
package api

import (
	"github.com/costq-ai/costq/internal/api/handlers"
	"github.com/costq-ai/costq/internal/api/middleware"
	"github.com/costq-ai/costq/internal/auth"
	"github.com/costq-ai/costq/internal/engine"
	"github.com/costq-ai/costq/internal/export"
	"github.com/costq-ai/costq/internal/hub"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// RateLimitRequests is the number of REST requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m").
	RateLimitPeriod string
	// RedisAddr shares the rate-limit store across replicas when set.
	RedisAddr string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
	}
}

// Store combines the persistence the handlers need. *db.DB satisfies it.
type Store interface {
	handlers.UserStore
	handlers.ChatStore
	handlers.ChatRecorder
	handlers.AuditStore
	handlers.DatabaseHealthChecker
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies. archiver
// and gatherer may be nil when those features are not configured.
func NewRouter(
	cfg Config,
	store Store,
	lifecycle *hub.Hub,
	eng engine.Engine,
	issuer *auth.TokenIssuer,
	archiver *export.Archiver,
	gatherer prometheus.Gatherer,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}

	// Health and metrics endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(store, lifecycle, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	if gatherer != nil {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket endpoint; authenticates inside the handler.
	wsHandler := handlers.NewWSHandler(lifecycle, eng, issuer, store, logger)
	wsHandler.RegisterRoutes(r.Engine)

	// Auth routes (no auth required, rate limited)
	public := r.Engine.Group("/api/v1")
	public.Use(rateLimiter)
	authHandler := handlers.NewAuthHandler(store, issuer, logger)
	authHandler.RegisterRoutes(public)

	// API v1 routes (auth required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(rateLimiter)
	apiV1.Use(middleware.Auth(issuer, logger))

	authHandler.RegisterProtectedRoutes(apiV1)

	chatHandler := handlers.NewChatHandler(store, archiver, logger)
	chatHandler.RegisterRoutes(apiV1)

	auditHandler := handlers.NewAuditHandler(store, logger)
	auditHandler.RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
