package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/costq-ai/costq/internal/auth"
	"github.com/costq-ai/costq/internal/db"
	"github.com/costq-ai/costq/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "0123456789abcdef0123456789abcdef"

func testIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer([]byte(testSecret), time.Hour)
	require.NoError(t, err)
	return issuer
}

func testClaims() *auth.Claims {
	return &auth.Claims{
		UserID: uuid.New(),
		OrgID:  uuid.New(),
		Role:   models.RoleMember,
	}
}

// mockStore is an in-memory Store for handler tests.
type mockStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	messages []*models.ChatMessage
	events   []*models.AuditEvent

	historyErr error
	pingErr    error
}

func newMockStore() *mockStore {
	return &mockStore{users: make(map[string]*models.User)}
}

func (m *mockStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[username]; ok {
		return user, nil
	}
	return nil, db.ErrNotFound
}

func (m *mockStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockStore) GetAuditEvents(_ context.Context, userID uuid.UUID, limit int) ([]*models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range m.events {
		if e.UserID == userID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) GetChatHistory(context.Context, uuid.UUID, int) ([]*models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.messages, nil
}

func (m *mockStore) CreateChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockStore) RecordAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *mockStore) eventTypes() []models.AuditEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]models.AuditEventType, 0, len(m.events))
	for _, e := range m.events {
		types = append(types, e.Type)
	}
	return types
}
