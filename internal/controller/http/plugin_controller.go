package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	apperrors "github.com/jrjohn/arcana-plugin-runtime/pkg/errors"
)

// PluginManager is the part of the plugin manager the admin API drives
type PluginManager interface {
	Plugins() []api.LoadedPlugin
	Plugin(id string) (api.LoadedPlugin, bool)
	GetErrors() []api.PluginError
	ErrorsFor(id string) []api.PluginError
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	Unload(ctx context.Context, id string) error
	Reload(ctx context.Context) error
	Registry() registry.Reader
}

// PluginController handles plugin management endpoints
type PluginController struct {
	manager        PluginManager
	breakers       *resilience.CircuitBreakerRegistry
	authMiddleware *middleware.AuthMiddleware
	limiter        *resilience.KeyedLimiter
}

// NewPluginController creates a new PluginController instance. breakers
// and limiter may be nil.
func NewPluginController(
	manager PluginManager,
	breakers *resilience.CircuitBreakerRegistry,
	authMiddleware *middleware.AuthMiddleware,
	limiter *resilience.KeyedLimiter,
) *PluginController {
	return &PluginController{
		manager:        manager,
		breakers:       breakers,
		authMiddleware: authMiddleware,
		limiter:        limiter,
	}
}

// RegisterRoutes registers the plugin routes
func (c *PluginController) RegisterRoutes(router *gin.RouterGroup) {
	plugins := router.Group("/plugins")
	{
		// Public health endpoints
		plugins.GET("/health", c.GetHealth)
		plugins.GET("/health/ready", c.GetReadiness)
		plugins.GET("/health/live", c.GetLiveness)

		protected := plugins.Group("")
		protected.Use(c.authMiddleware.Authenticate())
		{
			protected.GET("", c.List)
			protected.GET("/errors", c.ListErrors)
			protected.GET("/registry", c.GetRegistry)
			protected.GET("/breakers", c.ListBreakers)
			protected.GET("/:id", c.Get)
			protected.GET("/:id/errors", c.ListPluginErrors)
		}

		admin := plugins.Group("")
		if c.limiter != nil {
			admin.Use(middleware.RateLimit(c.limiter, 60))
		}
		admin.Use(c.authMiddleware.Authenticate(), c.authMiddleware.RequireAdmin())
		{
			admin.POST("/reload", c.Reload)
			admin.POST("/:id/activate", c.Activate)
			admin.POST("/:id/deactivate", c.Deactivate)
			admin.DELETE("/:id", c.Unload)
		}
	}
}

// List retrieves all known plugins
// @Summary List plugins
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by lifecycle status"
// @Success 200 {object} response.ApiResponse[[]response.PluginResponse]
// @Router /api/v1/plugins [get]
func (c *PluginController) List(ctx *gin.Context) {
	status := ctx.Query("status")

	out := make([]response.PluginResponse, 0)
	for _, p := range c.manager.Plugins() {
		if status != "" && string(p.Status) != status {
			continue
		}
		out = append(out, response.NewPluginResponse(p.Summary()))
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(out))
}

// Get retrieves one plugin with its contributions and recorded errors
// @Summary Get plugin by id
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Param id path string true "Plugin id"
// @Success 200 {object} response.ApiResponse[response.PluginDetailResponse]
// @Failure 404 {object} response.ApiResponse[any]
// @Router /api/v1/plugins/{id} [get]
func (c *PluginController) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	p, ok := c.manager.Plugin(id)
	if !ok {
		respondError(ctx, apperrors.ErrPluginNotFound.WithMessagef("plugin %s not found", id), "")
		return
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(response.NewPluginDetailResponse(p, c.manager.ErrorsFor(id))))
}

// ListErrors returns every recorded plugin error
// @Summary List plugin errors
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.ApiResponse[[]response.PluginErrorResponse]
// @Router /api/v1/plugins/errors [get]
func (c *PluginController) ListErrors(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(response.NewPluginErrorResponses(c.manager.GetErrors())))
}

// ListPluginErrors returns the errors recorded for one plugin id, including
// ids that never finished loading
// @Summary List errors of one plugin
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Param id path string true "Plugin id"
// @Success 200 {object} response.ApiResponse[[]response.PluginErrorResponse]
// @Router /api/v1/plugins/{id}/errors [get]
func (c *PluginController) ListPluginErrors(ctx *gin.Context) {
	errs := c.manager.ErrorsFor(ctx.Param("id"))
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(response.NewPluginErrorResponses(errs)))
}

// GetRegistry returns a snapshot of the extension registry
// @Summary Extension registry snapshot
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.ApiResponse[registry.Snapshot]
// @Router /api/v1/plugins/registry [get]
func (c *PluginController) GetRegistry(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(c.manager.Registry().Snapshot()))
}

// ListBreakers returns the hook handler circuit breakers
// @Summary Hook circuit breaker states
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.ApiResponse[[]response.BreakerResponse]
// @Router /api/v1/plugins/breakers [get]
func (c *PluginController) ListBreakers(ctx *gin.Context) {
	var statuses []resilience.BreakerStatus
	if c.breakers != nil {
		statuses = c.breakers.Statuses()
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(response.NewBreakerResponses(statuses)))
}

// Activate activates a loaded or inactive plugin
// @Summary Activate a plugin
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Param id path string true "Plugin id"
// @Success 200 {object} response.ApiResponse[response.PluginResponse]
// @Failure 404 {object} response.ApiResponse[any]
// @Failure 409 {object} response.ApiResponse[any]
// @Router /api/v1/plugins/{id}/activate [post]
func (c *PluginController) Activate(ctx *gin.Context) {
	c.transition(ctx, c.manager.Activate, "failed to activate plugin", "Plugin activated successfully")
}

// Deactivate deactivates an active plugin
// @Summary Deactivate a plugin
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Param id path string true "Plugin id"
// @Success 200 {object} response.ApiResponse[response.PluginResponse]
// @Failure 404 {object} response.ApiResponse[any]
// @Router /api/v1/plugins/{id}/deactivate [post]
func (c *PluginController) Deactivate(ctx *gin.Context) {
	c.transition(ctx, c.manager.Deactivate, "failed to deactivate plugin", "Plugin deactivated successfully")
}

func (c *PluginController) transition(ctx *gin.Context, fn func(context.Context, string) error, fallback, message string) {
	id := ctx.Param("id")
	if id == "" {
		ctx.JSON(http.StatusBadRequest, response.NewError[any](msgPluginIDRequired))
		return
	}

	if err := fn(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err, fallback)
		return
	}

	p, ok := c.manager.Plugin(id)
	if !ok {
		respondError(ctx, apperrors.ErrPluginNotFound.WithMessagef("plugin %s not found", id), fallback)
		return
	}
	ctx.JSON(http.StatusOK, response.NewSuccess(response.NewPluginResponse(p.Summary()), message))
}

// Unload unloads an inactive plugin
// @Summary Unload a plugin
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Param id path string true "Plugin id"
// @Success 200 {object} response.ApiResponse[any]
// @Failure 404 {object} response.ApiResponse[any]
// @Failure 409 {object} response.ApiResponse[any]
// @Router /api/v1/plugins/{id} [delete]
func (c *PluginController) Unload(ctx *gin.Context) {
	if err := c.manager.Unload(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err, "failed to unload plugin")
		return
	}

	ctx.JSON(http.StatusOK, response.NewSuccess[any](nil, "Plugin unloaded successfully"))
}

// Reload unloads every plugin and rediscovers the plugin root
// @Summary Reload all plugins
// @Tags Plugins
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.ApiResponse[[]response.PluginResponse]
// @Router /api/v1/plugins/reload [post]
func (c *PluginController) Reload(ctx *gin.Context) {
	if err := c.manager.Reload(ctx.Request.Context()); err != nil {
		respondError(ctx, err, "failed to reload plugins")
		return
	}

	out := make([]response.PluginResponse, 0)
	for _, p := range c.manager.Plugins() {
		out = append(out, response.NewPluginResponse(p.Summary()))
	}
	ctx.JSON(http.StatusOK, response.NewSuccess(out, "Plugins reloaded successfully"))
}

// GetHealth returns the plugin system health status
// @Summary Get plugin system health
// @Tags Plugins
// @Produce json
// @Success 200 {object} response.ApiResponse[response.PluginHealthResponse]
// @Router /api/v1/plugins/health [get]
func (c *PluginController) GetHealth(ctx *gin.Context) {
	plugins := c.manager.Plugins()
	health := response.PluginHealthResponse{
		Status:          "healthy",
		TotalPlugins:    len(plugins),
		ByStatus:        make(map[string]int),
		ErrorCount:      len(c.manager.GetErrors()),
		RegistryVersion: c.manager.Registry().Version(),
	}
	for _, p := range plugins {
		health.ByStatus[string(p.Status)]++
	}
	if c.breakers != nil {
		for _, s := range c.breakers.Statuses() {
			if s.State == resilience.StateOpen.String() {
				health.OpenCircuitCount++
			}
		}
	}
	if health.OpenCircuitCount > 0 {
		health.Status = "degraded"
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(health))
}

// GetReadiness returns the Kubernetes readiness probe response
// @Summary Kubernetes readiness probe
// @Tags Plugins
// @Produce json
// @Success 200 {object} map[string]string
// @Router /api/v1/plugins/health/ready [get]
func (c *PluginController) GetReadiness(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetLiveness returns the Kubernetes liveness probe response
// @Summary Kubernetes liveness probe
// @Tags Plugins
// @Produce json
// @Success 200 {object} map[string]string
// @Router /api/v1/plugins/health/live [get]
func (c *PluginController) GetLiveness(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "alive"})
}
