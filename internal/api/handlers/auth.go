// Package handlers implements the HTTP handlers for the CostQ API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/costq-ai/costq/internal/api/middleware"
	"github.com/costq-ai/costq/internal/auth"
	"github.com/costq-ai/costq/internal/db"
	"github.com/costq-ai/costq/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserStore defines the user lookups the auth handler needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	users  UserStore
	issuer *auth.TokenIssuer
	logger zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users UserStore, issuer *auth.TokenIssuer, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		issuer: issuer,
		logger: logger.With().Str("component", "auth_handler").Logger(),
	}
}

// RegisterRoutes registers auth routes on the given group.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
}

// RegisterProtectedRoutes registers auth routes that require a token.
func (h *AuthHandler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login exchanges credentials for an access token.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.users.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		// Unknown user and bad password return the same response.
		if !errors.Is(err, db.ErrNotFound) {
			h.logger.Error().Err(err).Msg("user lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.logger.Debug().Str("username", req.Username).Msg("password mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.issuer.Issue(user)
	if err != nil {
		h.logger.Error().Err(err).Msg("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, loginResponse{Token: token, User: user})
}

// Me returns the authenticated user's account.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Token outlived the account.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account no longer exists"})
			return
		}
		h.logger.Error().Err(err).Msg("user lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
