package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sampleday/backend/internal/auth"
	"github.com/sampleday/backend/pkg/response"
)

const (
	ContextUserID    = "user_id"
	ContextUserRole  = "user_role"
	ContextUserEmail = "user_email"
)

// TokenValidator parses an access token into claims. *auth.JWTService implements it.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT requires a bearer token and stores the caller's id, role and email on the gin context.
func JWT(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Unauthorized(c, "missing or malformed bearer token")
			c.Abort()
			return
		}
		claims, err := v.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// UserIDFromToken adapts v for callers that only need the user id, such as
// the websocket endpoint which takes its token from the query string.
func UserIDFromToken(v TokenValidator) func(string) (uuid.UUID, error) {
	return func(token string) (uuid.UUID, error) {
		claims, err := v.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}
}

// bearerToken extracts the token from an Authorization header. The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
