package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/dao"
	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/service"
	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/request"
	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
)

// AuditController serves the persisted plugin lifecycle history
type AuditController struct {
	auditService   service.PluginAuditService
	authMiddleware *middleware.AuthMiddleware
}

// NewAuditController creates a new AuditController instance
func NewAuditController(auditService service.PluginAuditService, authMiddleware *middleware.AuthMiddleware) *AuditController {
	return &AuditController{
		auditService:   auditService,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers the audit routes
func (c *AuditController) RegisterRoutes(router *gin.RouterGroup) {
	audit := router.Group("/audit")
	audit.Use(c.authMiddleware.Authenticate())
	{
		audit.GET("/plugins", c.ListPlugins)
		audit.GET("/plugins/:id", c.GetPlugin)
		audit.GET("/transitions", c.ListTransitions)
		audit.GET("/plugins/:id/transitions", c.ListTransitions)
		audit.GET("/errors", c.ListErrors)
		audit.GET("/plugins/:id/errors", c.ListErrors)
	}
}

func bindPage(ctx *gin.Context) (page, size int, ok bool) {
	var q request.PageQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		ctx.JSON(http.StatusBadRequest, response.NewErrorWithDetails[any](msgValidationFailed, err.Error()))
		return 0, 0, false
	}
	page, size = dao.NormalizePage(q.Page, q.Size)
	return page, size, true
}

// ListPlugins returns the last known state of every plugin ever seen
// @Summary Persisted plugin states
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.ApiResponse[[]response.PluginHistoryResponse]
// @Router /api/v1/audit/plugins [get]
func (c *AuditController) ListPlugins(ctx *gin.Context) {
	records, err := c.auditService.Plugins(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err, "failed to fetch plugin history")
		return
	}

	out := make([]response.PluginHistoryResponse, 0, len(records))
	for _, r := range records {
		out = append(out, response.NewPluginHistoryResponse(r))
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(out))
}

// GetPlugin returns one plugin's last known state
// @Summary Persisted plugin state
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param id path string true "Plugin id"
// @Success 200 {object} response.ApiResponse[response.PluginHistoryResponse]
// @Failure 404 {object} response.ApiResponse[any]
// @Router /api/v1/audit/plugins/{id} [get]
func (c *AuditController) GetPlugin(ctx *gin.Context) {
	record, err := c.auditService.Plugin(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrPluginNotFound) {
			ctx.JSON(http.StatusNotFound, response.NewError[any]("plugin not found"))
			return
		}
		respondError(ctx, err, "failed to fetch plugin history")
		return
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(response.NewPluginHistoryResponse(record)))
}

// ListTransitions pages through lifecycle transitions, newest first
// @Summary Lifecycle transitions
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} response.ApiResponse[response.PagedResponse[response.TransitionResponse]]
// @Router /api/v1/audit/transitions [get]
func (c *AuditController) ListTransitions(ctx *gin.Context) {
	page, size, ok := bindPage(ctx)
	if !ok {
		return
	}

	result, err := c.auditService.Transitions(ctx.Request.Context(), ctx.Param("id"), page, size)
	if err != nil {
		respondError(ctx, err, "failed to fetch transitions")
		return
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(
		response.NewPagedResponse(response.NewTransitionResponses(result.Items), page, size, result.TotalCount),
	))
}

// ListErrors pages through persisted plugin errors, newest first
// @Summary Persisted plugin errors
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} response.ApiResponse[response.PagedResponse[response.PluginErrorResponse]]
// @Router /api/v1/audit/errors [get]
func (c *AuditController) ListErrors(ctx *gin.Context) {
	page, size, ok := bindPage(ctx)
	if !ok {
		return
	}

	result, err := c.auditService.Errors(ctx.Request.Context(), ctx.Param("id"), page, size)
	if err != nil {
		respondError(ctx, err, "failed to fetch plugin errors")
		return
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(
		response.NewPagedResponse(response.NewStoredErrorResponses(result.Items), page, size, result.TotalCount),
	))
}
