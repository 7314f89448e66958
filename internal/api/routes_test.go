package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/costq-ai/costq/internal/auth"
	"github.com/costq-ai/costq/internal/engine"
	"github.com/costq-ai/costq/internal/gate"
	"github.com/costq-ai/costq/internal/hub"
	"github.com/costq-ai/costq/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubStore struct{}

func (stubStore) GetUserByUsername(context.Context, string) (*models.User, error) {
	return nil, context.Canceled
}
func (stubStore) GetUserByID(context.Context, uuid.UUID) (*models.User, error) {
	return nil, context.Canceled
}
func (stubStore) GetAuditEvents(context.Context, uuid.UUID, int) ([]*models.AuditEvent, error) {
	return nil, nil
}
func (stubStore) GetChatHistory(context.Context, uuid.UUID, int) ([]*models.ChatMessage, error) {
	return nil, nil
}
func (stubStore) CreateChatMessage(context.Context, *models.ChatMessage) error { return nil }
func (stubStore) RecordAuditEvent(context.Context, *models.AuditEvent) error   { return nil }
func (stubStore) Ping(context.Context) error                                   { return nil }

type stubEngine struct{}

func (stubEngine) Run(context.Context, engine.Request, *hub.CancelToken, func(engine.Chunk) error) error {
	return nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	issuer, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	lifecycle := hub.New(hub.DefaultConfig(), gate.New(gate.DefaultConfig(), zerolog.Nop()),
		hub.NopRecorder{}, zerolog.Nop())

	router, err := NewRouter(DefaultConfig(), stubStore{}, lifecycle, stubEngine{}, issuer,
		nil, prometheus.NewRegistry(), zerolog.Nop())
	require.NoError(t, err)
	return router
}

func TestRouterHealthz(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterMetrics(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterProtectedRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/v1/chat/history", "/api/v1/auth/me", "/api/v1/audit/events"} {
		w := httptest.NewRecorder()
		router.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "path %s", path)
	}
}

func TestRouterRejectsBadRateLimitPeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPeriod = "bogus"

	issuer, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	lifecycle := hub.New(hub.DefaultConfig(), gate.New(gate.DefaultConfig(), zerolog.Nop()),
		hub.NopRecorder{}, zerolog.Nop())

	_, err = NewRouter(cfg, stubStore{}, lifecycle, stubEngine{}, issuer, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
