package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

// AuthMiddleware provides bearer token authentication for the admin API
type AuthMiddleware struct {
	jwtProvider *security.JWTProvider
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(jwtProvider *security.JWTProvider) *AuthMiddleware {
	return &AuthMiddleware{jwtProvider: jwtProvider}
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// setClaims exposes claims to gin handlers and to anything reading the
// request context
func setClaims(c *gin.Context, claims *security.Claims) {
	security.SetCurrentClaims(c, claims)
	c.Request = c.Request.WithContext(security.WithClaims(c.Request.Context(), claims))
}

// Authenticate validates the JWT token and sets the claims in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.NewError[any]("authorization header required"))
			return
		}
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.NewError[any]("invalid authorization header format"))
			return
		}

		claims, err := m.jwtProvider.ValidateAccessToken(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, security.ErrExpiredToken) {
				msg = "token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.NewError[any](msg))
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth validates the JWT token if present but doesn't require it
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := m.jwtProvider.ValidateAccessToken(token); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// RequireRole checks that the authenticated caller has one of roles
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := security.GetCurrentClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.NewError[any]("authentication required"))
			return
		}

		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, response.NewError[any]("insufficient permissions"))
	}
}

// RequireAdmin checks if the caller is an admin
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return m.RequireRole(security.RoleAdmin)
}
