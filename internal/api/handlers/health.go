package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status   HealthStatus   `json:"status"`
	Database string         `json:"database"`
	System   map[string]any `json:"system,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
}

// LifecycleStats exposes live hub counts on the health endpoint.
type LifecycleStats interface {
	ConnectionCount() int
}

// HealthHandler handles the health endpoint.
type HealthHandler struct {
	db     DatabaseHealthChecker
	hub    LifecycleStats
	logger zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db DatabaseHealthChecker, hub LifecycleStats, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		hub:    hub,
		logger: logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
}

// Healthz returns the overall server health.
// GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status:   HealthStatusHealthy,
		Database: "ok",
		System:   h.systemStats(ctx),
	}

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("database health check failed")
		response.Status = HealthStatusUnhealthy
		response.Database = "unreachable"
		response.Error = "database ping failed"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// systemStats collects process and host stats. Collection failures are
// tolerated; the stat is just omitted.
func (h *HealthHandler) systemStats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"goroutines": runtime.NumGoroutine(),
	}

	if h.hub != nil {
		stats["active_connections"] = h.hub.ConnectionCount()
	}
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["memory_used_percent"] = memStat.UsedPercent
	}
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		stats["cpu_percent"] = cpuPercent[0]
	}
	return stats
}
