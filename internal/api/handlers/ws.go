package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/costq-ai/costq/internal/auth"
	"github.com/costq-ai/costq/internal/engine"
	"github.com/costq-ai/costq/internal/hub"
	"github.com/costq-ai/costq/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client frame types.
const (
	frameQuery       = "query"
	frameCancelQuery = "cancel_query"
	frameHeartbeat   = "heartbeat"
	framePing        = "ping"
)

// Server frame types.
const (
	frameQueryStart        = "query_start"
	frameChunk             = "chunk"
	frameQueryComplete     = "query_complete"
	frameQueryError        = "query_error"
	frameGenerationCancel  = "generation_cancelled"
	frameCancelAck         = "cancel_ack"
	frameHeartbeatAck      = "heartbeat_ack"
	framePong              = "pong"
	frameRateLimited       = "rate_limited"
	frameAdmissionRejected = "admission_rejected"
)

// clientFrame is one inbound WebSocket message.
type clientFrame struct {
	Type   string    `json:"type"`
	ID     uuid.UUID `json:"id"`
	Prompt string    `json:"prompt"`
}

// eventFrame is an outbound control message.
type eventFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Accepted   *bool  `json:"accepted,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// chunkFrame is one streamed answer piece.
type chunkFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// ChatRecorder persists conversation turns and lifecycle audit events.
// Persistence failures never interrupt a session; they are logged.
type ChatRecorder interface {
	CreateChatMessage(ctx context.Context, msg *models.ChatMessage) error
	RecordAuditEvent(ctx context.Context, event *models.AuditEvent) error
}

// WSHandler owns the WebSocket endpoint: it authenticates the upgrade,
// registers the connection with the hub, and drives the frame loop.
type WSHandler struct {
	hub      *hub.Hub
	engine   engine.Engine
	issuer   *auth.TokenIssuer
	store    ChatRecorder
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(h *hub.Hub, eng engine.Engine, issuer *auth.TokenIssuer, store ChatRecorder, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:    h,
		engine: eng,
		issuer: issuer,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the deployment proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

// RegisterRoutes registers the WebSocket route. Auth happens inside the
// handler: browsers cannot set headers on WebSocket dials, so the token
// arrives as a query parameter.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.Serve)
}

// Serve upgrades the request and runs the connection's read loop.
// GET /ws?token=...
func (h *WSHandler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if header := c.GetHeader("Authorization"); header != "" {
			token, _ = strings.CutPrefix(header, "Bearer ")
		}
	}

	claims, err := h.issuer.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	if !h.hub.Connect(claims.UserID, claims.OrgID, string(claims.Role), conn) {
		_ = conn.WriteJSON(eventFrame{
			Type:    frameAdmissionRejected,
			Scope:   "connection",
			Message: "connection limit reached",
		})
		_ = conn.Close()
		return
	}

	h.audit(claims, models.AuditConnect, "")
	defer func() {
		h.hub.Disconnect(claims.UserID)
		h.audit(claims, models.AuditDisconnect, "")
	}()

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).
					Str("user_id", claims.UserID.String()).
					Msg("websocket read failed")
			}
			return
		}
		h.handleFrame(claims, frame)
	}
}

func (h *WSHandler) handleFrame(claims *auth.Claims, frame clientFrame) {
	switch frame.Type {
	case frameHeartbeat:
		h.hub.TouchHeartbeat(claims.UserID)
		h.hub.SendToUser(claims.UserID, eventFrame{Type: frameHeartbeatAck})

	case framePing:
		h.hub.SendToUser(claims.UserID, eventFrame{Type: framePong})

	case frameCancelQuery:
		accepted := h.hub.Cancel(claims.UserID, frame.ID)
		h.hub.SendToUser(claims.UserID, eventFrame{
			Type:     frameCancelAck,
			ID:       frame.ID.String(),
			Accepted: &accepted,
		})
		if accepted {
			h.audit(claims, models.AuditQueryCancelled, frame.ID.String())
		}

	case frameQuery:
		h.handleQuery(claims, frame)

	default:
		h.hub.SendToUser(claims.UserID, eventFrame{
			Type:    frameQueryError,
			Message: "unknown frame type",
		})
	}
}

// handleQuery admits and launches one query. Admission order: sliding
// window first, then slot reservation, so a rate-limited burst cannot
// consume slots.
func (h *WSHandler) handleQuery(claims *auth.Claims, frame clientFrame) {
	h.hub.TouchActivity(claims.UserID)

	queryID := frame.ID
	if queryID == uuid.Nil {
		queryID = uuid.New()
	}

	if strings.TrimSpace(frame.Prompt) == "" {
		h.hub.SendToUser(claims.UserID, eventFrame{
			Type:    frameQueryError,
			ID:      queryID.String(),
			Message: "prompt is required",
		})
		return
	}

	if allowed, retryAfter := h.hub.CheckRate(claims.UserID); !allowed {
		h.hub.SendToUser(claims.UserID, eventFrame{
			Type:       frameRateLimited,
			ID:         queryID.String(),
			RetryAfter: int(retryAfter.Seconds()) + 1,
		})
		return
	}

	q, ok := h.hub.Register(claims.UserID, queryID, frame.Prompt)
	if !ok {
		h.hub.SendToUser(claims.UserID, eventFrame{
			Type:    frameAdmissionRejected,
			ID:      queryID.String(),
			Scope:   "query",
			Message: "query limit reached",
		})
		return
	}

	h.persist(models.NewChatMessage(claims.UserID, queryID, models.MessageRoleUser, frame.Prompt))
	h.audit(claims, models.AuditQueryStart, queryID.String())
	h.hub.SendToUser(claims.UserID, eventFrame{Type: frameQueryStart, ID: queryID.String()})

	go h.runQuery(claims, q)
}

// runQuery executes one admitted query to completion on its own
// goroutine. RunQuery guarantees the admission slot is released exactly
// once whatever the outcome.
func (h *WSHandler) runQuery(claims *auth.Claims, q *hub.Query) {
	var answer strings.Builder

	status, err := h.hub.RunQuery(q, func(token *hub.CancelToken) error {
		req := engine.Request{QueryID: q.ID, UserID: q.UserID, Prompt: q.Prompt}
		return h.engine.Run(context.Background(), req, token, func(chunk engine.Chunk) error {
			answer.WriteString(chunk.Content)
			if !h.hub.SendToUser(q.UserID, chunkFrame{
				Type:    frameChunk,
				ID:      q.ID.String(),
				Index:   chunk.Index,
				Content: chunk.Content,
			}) {
				return context.Canceled
			}
			h.hub.TouchActivity(q.UserID)
			return nil
		})
	})

	switch status {
	case hub.StatusCompleted:
		if answer.Len() > 0 {
			h.persist(models.NewChatMessage(q.UserID, q.ID, models.MessageRoleAssistant, answer.String()))
		}
		h.audit(claims, models.AuditQueryComplete, q.ID.String())
		h.hub.SendToUser(q.UserID, eventFrame{Type: frameQueryComplete, ID: q.ID.String()})

	case hub.StatusCancelling:
		h.audit(claims, models.AuditQueryCancelled, q.ID.String())
		h.hub.SendToUser(q.UserID, eventFrame{Type: frameGenerationCancel, ID: q.ID.String()})

	default:
		h.logger.Warn().Err(err).
			Str("user_id", q.UserID.String()).
			Str("query_id", q.ID.String()).
			Msg("query failed")
		h.audit(claims, models.AuditQueryFailed, q.ID.String())
		h.hub.SendToUser(q.UserID, eventFrame{
			Type:    frameQueryError,
			ID:      q.ID.String(),
			Message: "query execution failed",
		})
	}
}

func (h *WSHandler) persist(msg *models.ChatMessage) {
	if err := h.store.CreateChatMessage(context.Background(), msg); err != nil {
		h.logger.Error().Err(err).
			Str("user_id", msg.UserID.String()).
			Msg("failed to persist chat message")
	}
}

func (h *WSHandler) audit(claims *auth.Claims, eventType models.AuditEventType, detail string) {
	event := models.NewAuditEvent(claims.UserID, claims.OrgID, eventType, detail)
	if err := h.store.RecordAuditEvent(context.Background(), event); err != nil {
		h.logger.Error().Err(err).
			Str("event_type", string(eventType)).
			Msg("failed to record audit event")
	}
}
