package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

// SecurityModule provides security-related dependencies
var SecurityModule = fx.Module("security",
	fx.Provide(
		provideJWTProvider,
		providePasswordHasher,
		provideAuthenticator,
		provideAdminLimiter,
	),
)

func provideJWTProvider(cfg *config.JWTConfig) *security.JWTProvider {
	return security.NewJWTProvider(cfg)
}

func providePasswordHasher() *security.PasswordHasher {
	return security.NewPasswordHasher(security.DefaultCost)
}

func provideAuthenticator(
	cfg *config.AdminConfig,
	hasher *security.PasswordHasher,
	jwtProvider *security.JWTProvider,
) *security.Authenticator {
	return security.NewAuthenticator(cfg, hasher, jwtProvider)
}

// provideAdminLimiter returns nil when rate limiting is off
func provideAdminLimiter(cfg *config.AdminConfig) *resilience.KeyedLimiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	return resilience.NewKeyedLimiter(&resilience.RateLimiterConfig{
		Rate:      cfg.RateLimit,
		Period:    cfg.RatePeriod,
		BurstSize: cfg.RateBurst,
	})
}
