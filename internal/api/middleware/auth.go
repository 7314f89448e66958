package middleware

import (
	"net/http"
	"strings"

	"github.com/costq-ai/costq/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// claimsKey is the gin context key under which verified claims are stored.
const claimsKey = "auth_claims"

// Auth returns a middleware that requires a valid bearer token and
// stores its claims in the request context.
func Auth(issuer *auth.TokenIssuer, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := issuer.Verify(token)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the verified claims stored by Auth, or nil.
func ClaimsFrom(c *gin.Context) *auth.Claims {
	val, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := val.(*auth.Claims)
	return claims
}

// InjectClaims stores claims directly in the context. Test helper for
// handlers that sit behind Auth in production.
func InjectClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(claimsKey, claims)
}
