package security

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
)

const (
	// ContextKeyClaims is the key for storing claims in the gin context
	ContextKeyClaims = "current_claims"
)

// ErrInvalidCredentials is returned for a failed admin login
var ErrInvalidCredentials = errors.New("invalid credentials")

type claimsKey struct{}

// Authenticator checks the configured admin credentials and issues tokens
type Authenticator struct {
	username     string
	passwordHash string
	hasher       *PasswordHasher
	jwtProvider  *JWTProvider
}

// NewAuthenticator creates an Authenticator for the admin account
func NewAuthenticator(cfg *config.AdminConfig, hasher *PasswordHasher, jwtProvider *JWTProvider) *Authenticator {
	return &Authenticator{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		hasher:       hasher,
		jwtProvider:  jwtProvider,
	}
}

// Login verifies username and password and returns an access token.
// An empty password hash disables login.
func (a *Authenticator) Login(username, password string) (string, error) {
	if a.passwordHash == "" {
		return "", ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := a.hasher.Verify(password, a.passwordHash)
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}
	return a.jwtProvider.GenerateAccessToken(username, RoleAdmin)
}

// TokenDuration returns the access token lifetime in seconds
func (a *Authenticator) TokenDuration() int64 {
	return a.jwtProvider.GetAccessTokenDuration()
}

// GetCurrentClaims retrieves the current JWT claims from the gin context
func GetCurrentClaims(c *gin.Context) *Claims {
	claims, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	if cl, ok := claims.(*Claims); ok {
		return cl
	}
	return nil
}

// SetCurrentClaims sets the current claims in the gin context
func SetCurrentClaims(c *gin.Context, claims *Claims) {
	c.Set(ContextKeyClaims, claims)
}

// IsAdmin checks if the current caller holds the admin role
func IsAdmin(c *gin.Context) bool {
	claims := GetCurrentClaims(c)
	return claims != nil && claims.Role == RoleAdmin
}

// WithClaims stores claims on a request context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by WithClaims
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
