package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware validates the Authorization header.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := authenticate(c, verifier, false)
		if !ok {
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// WebSocketAuthMiddleware also accepts the token as ?token=, since browsers
// cannot set headers on websocket upgrades.
func WebSocketAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := authenticate(c, verifier, true)
		if !ok {
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func authenticate(c *gin.Context, verifier TokenVerifier, allowQuery bool) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" && allowQuery {
		if token := c.Query("token"); token != "" {
			header = "Bearer " + token
		}
	}
	if header == "" {
		abortUnauthorized(c, "missing authorization")
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		abortUnauthorized(c, "invalid authorization header")
		return "", false
	}

	userID, err := verifier.Verify(parts[1])
	if err != nil {
		abortUnauthorized(c, "invalid token")
		return "", false
	}
	return userID, true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "UNAUTHORIZED"})
}
