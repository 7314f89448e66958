package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/costq-ai/costq/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User methods

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, org_id, username, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.OrgID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID returns the user with the given ID.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT id, org_id, username, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.OrgID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &user, nil
}

// GetUserByUsername returns the user with the given username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT id, org_id, username, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.OrgID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &user, nil
}

// Chat message methods

// CreateChatMessage appends one conversation turn.
func (db *DB) CreateChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO chat_messages (id, user_id, query_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.UserID, msg.QueryID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create chat message: %w", err)
	}
	return nil
}

// GetChatHistory returns the user's most recent messages, oldest first.
func (db *DB) GetChatHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, query_id, role, content, created_at
		FROM (
			SELECT id, user_id, query_id, role, content, created_at
			FROM chat_messages
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get chat history: %w", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.QueryID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}

// Audit methods

// RecordAuditEvent appends a lifecycle audit record.
func (db *DB) RecordAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audit_events (id, user_id, org_id, event_type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.UserID, event.OrgID, event.Type, event.Detail, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// GetAuditEvents returns the user's most recent audit events, newest first.
func (db *DB) GetAuditEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, org_id, event_type, detail, created_at
		FROM audit_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		if err := rows.Scan(&event.ID, &event.UserID, &event.OrgID, &event.Type, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
