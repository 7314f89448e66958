package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/costq-ai/costq/internal/api/middleware"
	"github.com/costq-ai/costq/internal/export"
	"github.com/costq-ai/costq/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// historyLimitDefault and historyLimitMax bound the history page size.
const (
	historyLimitDefault = 50
	historyLimitMax     = 500
)

// ChatStore defines the chat history access the handler needs.
type ChatStore interface {
	GetChatHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*models.ChatMessage, error)
}

// ChatHandler serves chat history and transcript export.
type ChatHandler struct {
	store    ChatStore
	archiver *export.Archiver
	logger   zerolog.Logger
}

// NewChatHandler creates a new ChatHandler. archiver may be nil when
// transcript archival is not configured.
func NewChatHandler(store ChatStore, archiver *export.Archiver, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		store:    store,
		archiver: archiver,
		logger:   logger.With().Str("component", "chat_handler").Logger(),
	}
}

// RegisterRoutes registers chat routes on the given group.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/chat/history", h.History)
	r.POST("/chat/export", h.Export)
}

// History returns the caller's recent messages, oldest first.
// GET /api/v1/chat/history?limit=50
func (h *ChatHandler) History(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	limit := historyLimitDefault
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > historyLimitMax {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	messages, err := h.store.GetChatHistory(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("chat history lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if messages == nil {
		messages = []*models.ChatMessage{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Export archives the caller's transcript to object storage.
// POST /api/v1/chat/export
func (h *ChatHandler) Export(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	if h.archiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcript archival is not configured"})
		return
	}

	key, err := h.archiver.ArchiveUser(c.Request.Context(), claims.UserID, historyLimitMax)
	if err != nil {
		h.logger.Error().Err(err).Msg("transcript export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key})
}
