// Package models defines the core domain types for CostQ.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's role within an organization.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// User represents a CostQ user account.
type User struct {
	ID           uuid.UUID `json:"id"`
	OrgID        uuid.UUID `json:"org_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUser creates a User with a generated ID and timestamps.
func NewUser(orgID uuid.UUID, username, email, passwordHash string, role Role) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		OrgID:        orgID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MessageRole distinguishes user prompts from assistant replies.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ChatMessage is one persisted turn of a conversation.
type ChatMessage struct {
	ID        uuid.UUID   `json:"id"`
	UserID    uuid.UUID   `json:"user_id"`
	QueryID   uuid.UUID   `json:"query_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewChatMessage creates a ChatMessage with a generated ID and timestamp.
func NewChatMessage(userID, queryID uuid.UUID, role MessageRole, content string) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.New(),
		UserID:    userID,
		QueryID:   queryID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// QueryStatus is the lifecycle state of an in-flight query.
type QueryStatus string

const (
	QueryStatusRunning    QueryStatus = "running"
	QueryStatusCancelling QueryStatus = "cancelling"
	QueryStatusCompleted  QueryStatus = "completed"
	QueryStatusFailed     QueryStatus = "failed"
)

// AuditEventType categorizes audit log entries.
type AuditEventType string

const (
	AuditConnect          AuditEventType = "connection.open"
	AuditDisconnect       AuditEventType = "connection.close"
	AuditConnectionReaped AuditEventType = "connection.reaped"
	AuditQueryStart       AuditEventType = "query.start"
	AuditQueryComplete    AuditEventType = "query.complete"
	AuditQueryFailed      AuditEventType = "query.failed"
	AuditQueryCancelled   AuditEventType = "query.cancelled"
)

// AuditEvent is an append-only record of a lifecycle action.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	OrgID     uuid.UUID      `json:"org_id"`
	Type      AuditEventType `json:"type"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewAuditEvent creates an AuditEvent with a generated ID and timestamp.
func NewAuditEvent(userID, orgID uuid.UUID, eventType AuditEventType, detail string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		UserID:    userID,
		OrgID:     orgID,
		Type:      eventType,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}
