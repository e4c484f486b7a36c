package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// RoleAdmin is the only role allowed to change plugin state
const RoleAdmin = "admin"

// Claims represents the JWT claims of an admin API caller
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider handles JWT token generation and validation
type JWTProvider struct {
	secret              []byte
	accessTokenDuration time.Duration
	issuer              string
}

// NewJWTProvider creates a new JWTProvider instance
func NewJWTProvider(cfg *config.JWTConfig) *JWTProvider {
	return &JWTProvider{
		secret:              []byte(cfg.Secret),
		accessTokenDuration: cfg.AccessTokenDuration,
		issuer:              cfg.Issuer,
	}
}

// GenerateAccessToken issues a token for subject carrying role
func (p *JWTProvider) GenerateAccessToken(subject, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    p.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.accessTokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// ValidateAccessToken validates an access token and returns the claims
func (p *JWTProvider) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return p.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetAccessTokenDuration returns the access token duration in seconds
func (p *JWTProvider) GetAccessTokenDuration() int64 {
	return int64(p.accessTokenDuration.Seconds())
}
