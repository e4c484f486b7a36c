package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
	apperrors "github.com/jrjohn/arcana-plugin-runtime/pkg/errors"
)

const (
	msgValidationFailed = "validation failed"
	msgPluginIDRequired = "plugin id is required"
)

// respondError writes err as an API error. AppErrors keep their status and
// code; anything else becomes a 500 with fallback as the message.
func respondError(ctx *gin.Context, err error, fallback string) {
	if appErr, ok := apperrors.As(err); ok {
		ctx.JSON(appErr.Status, response.NewCodedError[any](appErr.Code, appErr.Message))
		return
	}
	_ = ctx.Error(err)
	ctx.JSON(http.StatusInternalServerError, response.NewCodedError[any](apperrors.CodeInternalError, fallback))
}
