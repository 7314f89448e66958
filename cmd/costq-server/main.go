// Package main is the entrypoint for the CostQ server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/costq-ai/costq/internal/api"
	"github.com/costq-ai/costq/internal/auth"
	"github.com/costq-ai/costq/internal/config"
	"github.com/costq-ai/costq/internal/db"
	"github.com/costq-ai/costq/internal/engine"
	"github.com/costq-ai/costq/internal/export"
	"github.com/costq-ai/costq/internal/gate"
	"github.com/costq-ai/costq/internal/hub"
	"github.com/costq-ai/costq/internal/mcppool"
	"github.com/costq-ai/costq/internal/metrics"
	"github.com/costq-ai/costq/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting CostQ server")

	// Load configuration
	cfg := config.LoadServerConfig()

	// Connect to database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(databaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Token issuer
	if cfg.JWTSecret == "" {
		logger.Error().Msg("COSTQ_JWT_SECRET environment variable is required")
		return 1
	}
	issuer, err := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize token issuer")
		return 1
	}

	// Lifecycle metrics
	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	// Admission gate and connection hub
	gateCfg := gate.Config{
		MaxConnections:        cfg.MaxConnections,
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		MaxQueries:            cfg.MaxQueries,
		MaxQueriesPerUser:     cfg.MaxQueriesPerUser,
	}
	admitter := gate.New(gateCfg, logger)

	hubCfg := hub.DefaultConfig()
	hubCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	hubCfg.IdleTimeout = cfg.IdleTimeout
	hubCfg.CancelGrace = cfg.CancelGrace
	hubCfg.RateLimitMax = cfg.RateLimitMax
	hubCfg.RateLimitWindow = cfg.RateLimitWindow
	lifecycle := hub.New(hubCfg, admitter, recorder, logger)

	// Stale connection reaper, with an audit record per reaped connection
	lifecycle.OnReap(func(info hub.ConnectionInfo, reason string) {
		auditCtx, auditCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer auditCancel()
		event := models.NewAuditEvent(info.UserID, info.OrgID, models.AuditConnectionReaped, reason)
		if err := database.RecordAuditEvent(auditCtx, event); err != nil {
			logger.Error().Err(err).Msg("Failed to record reap audit event")
		}
	})
	reaper := hub.NewReaper(lifecycle, cfg.ReaperInterval, logger)
	reaper.Start()
	defer reaper.Stop()

	// MCP tool-server pool
	defs, err := mcppool.LoadServerDefs(cfg.MCPServersFile)
	if err != nil {
		logger.Warn().Err(err).
			Str("path", cfg.MCPServersFile).
			Msg("No MCP server definitions loaded, queries will have no tools")
	}
	pool := mcppool.New(defs, Version, logger)
	pool.Start(ctx)
	defer pool.Stop()
	logger.Info().Strs("servers", pool.Servers()).Msg("Tool pool ready")

	// Query execution engine
	eng := engine.NewToolEngine(pool, logger)

	// Transcript archiver (optional)
	archiver, err := export.New(ctx, database, cfg.ArchiveBucket, cfg.ArchiveRegion, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize transcript archiver")
		return 1
	}
	if archiver == nil {
		logger.Info().Msg("Transcript archival disabled (no bucket configured)")
	}

	// Build API router
	routerCfg := api.Config{
		RateLimitRequests: cfg.APIRateLimitRequests,
		RateLimitPeriod:   cfg.APIRateLimitPeriod,
		RedisAddr:         cfg.RedisAddr,
	}

	router, err := api.NewRouter(routerCfg, database, lifecycle, eng, issuer, archiver, registry, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Drain live connections after the listener stops accepting.
	lifecycle.Shutdown()

	logger.Info().Msg("Server stopped")
	return 0
}
