package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSForOrigins builds the admin API's CORS policy. An empty list or "*"
// allows any origin without credentials.
func CORSForOrigins(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// CORS rejects cross-origin requests from origins outside cfg with 403
// and answers preflights with 204
func CORS(cfg cors.Config) gin.HandlerFunc {
	return cors.New(cfg)
}
