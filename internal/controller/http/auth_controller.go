package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/request"
	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

// AuthController handles admin authentication endpoints
type AuthController struct {
	authenticator *security.Authenticator
	limiter       *resilience.KeyedLimiter
}

// NewAuthController creates a new AuthController instance. limiter may be nil.
func NewAuthController(authenticator *security.Authenticator, limiter *resilience.KeyedLimiter) *AuthController {
	return &AuthController{
		authenticator: authenticator,
		limiter:       limiter,
	}
}

// RegisterRoutes registers the auth routes
func (c *AuthController) RegisterRoutes(router *gin.RouterGroup) {
	auth := router.Group("/auth")
	if c.limiter != nil {
		auth.Use(middleware.RateLimit(c.limiter, 60))
	}
	auth.POST("/login", c.Login)
}

// Login exchanges the admin credentials for an access token
// @Summary Admin login
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body request.LoginRequest true "Login request"
// @Success 200 {object} response.ApiResponse[response.AuthResponse]
// @Failure 400 {object} response.ApiResponse[any]
// @Failure 401 {object} response.ApiResponse[any]
// @Failure 429 {object} response.ApiResponse[any]
// @Router /api/v1/auth/login [post]
func (c *AuthController) Login(ctx *gin.Context) {
	var req request.LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.NewErrorWithDetails[any](msgValidationFailed, err.Error()))
		return
	}

	token, err := c.authenticator.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, security.ErrInvalidCredentials) {
			ctx.JSON(http.StatusUnauthorized, response.NewError[any]("invalid username or password"))
			return
		}
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("login failed"))
		return
	}

	ctx.JSON(http.StatusOK, response.NewSuccess(response.AuthResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   c.authenticator.TokenDuration(),
	}, "Login successful"))
}
