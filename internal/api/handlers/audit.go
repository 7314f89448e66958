package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/costq-ai/costq/internal/api/middleware"
	"github.com/costq-ai/costq/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// auditLimitDefault and auditLimitMax bound the audit page size.
const (
	auditLimitDefault = 100
	auditLimitMax     = 1000
)

// AuditStore defines the audit reads the handler needs.
type AuditStore interface {
	GetAuditEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*models.AuditEvent, error)
}

// AuditHandler serves the lifecycle audit trail to administrators.
type AuditHandler struct {
	store  AuditStore
	logger zerolog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(store AuditStore, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{
		store:  store,
		logger: logger.With().Str("component", "audit_handler").Logger(),
	}
}

// RegisterRoutes registers audit routes on the given group.
func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit/events", h.List)
}

// List returns a user's recent audit events, newest first. Admin only;
// user_id defaults to the caller's own ID.
// GET /api/v1/audit/events?user_id=<uuid>&limit=100
func (h *AuditHandler) List(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	if claims.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}

	userID := claims.UserID
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a UUID"})
			return
		}
		userID = id
	}

	limit := auditLimitDefault
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > auditLimitMax {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	events, err := h.store.GetAuditEvents(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("audit lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
