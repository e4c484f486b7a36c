package graphql

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/middleware"
)

// Handler serves the merged host and plugin schema over HTTP
type Handler struct {
	builder *SchemaBuilder
	config  *config.GraphQLConfig
	auth    *middleware.AuthMiddleware
	logger  *zap.Logger
}

// NewHandler creates a new GraphQL handler. With a nil auth middleware
// requests carry no claims.
func NewHandler(builder *SchemaBuilder, cfg *config.GraphQLConfig, auth *middleware.AuthMiddleware, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		builder: builder,
		config:  cfg,
		auth:    auth,
		logger:  logger.Named("graphql_handler"),
	}
}

// GraphQLRequest is the body of a POST or the query string of a GET
type GraphQLRequest struct {
	Query         string         `json:"query" form:"query"`
	OperationName string         `json:"operationName" form:"operationName"`
	Variables     map[string]any `json:"variables" form:"-"`
}

// RegisterRoutes mounts the endpoint and, when enabled, the playground
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	handlers := []gin.HandlerFunc{h.serve}
	if h.auth != nil {
		handlers = append([]gin.HandlerFunc{h.auth.OptionalAuth()}, handlers...)
	}
	router.POST(h.config.Path, handlers...)
	router.GET(h.config.Path, handlers...)

	if h.config.EnablePlayground {
		router.GET(h.config.PlaygroundPath, h.playground)
	}
}

func graphQLError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"errors": []gin.H{{"message": msg}}})
}

func (h *Handler) serve(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	schema, err := h.builder.Schema(ctx)
	if err != nil {
		h.logger.Error("graphql schema unavailable", zap.Error(err))
		graphQLError(c, http.StatusInternalServerError, "schema unavailable")
		return
	}

	c.JSON(http.StatusOK, graphql.Do(graphql.Params{
		Schema:         *schema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		Context:        ctx,
	}))
}

func bindRequest(c *gin.Context) (GraphQLRequest, bool) {
	var req GraphQLRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			graphQLError(c, http.StatusBadRequest, "invalid request body")
			return req, false
		}
		return req, true
	}

	if err := c.ShouldBindQuery(&req); err != nil {
		graphQLError(c, http.StatusBadRequest, "invalid query string")
		return req, false
	}
	if raw := c.Query("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			graphQLError(c, http.StatusBadRequest, "invalid variables")
			return req, false
		}
	}
	return req, true
}

var playgroundPage = template.Must(template.New("playground").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Plugin Runtime GraphiQL</title>
  <link rel="stylesheet" href="https://unpkg.com/graphiql@3/graphiql.min.css">
  <style>body { margin: 0; height: 100vh; } #graphiql { height: 100vh; }</style>
</head>
<body>
  <div id="graphiql"></div>
  <script src="https://unpkg.com/react@18/umd/react.production.min.js"></script>
  <script src="https://unpkg.com/react-dom@18/umd/react-dom.production.min.js"></script>
  <script src="https://unpkg.com/graphiql@3/graphiql.min.js"></script>
  <script>
    const fetcher = GraphiQL.createFetcher({ url: {{.Endpoint}} });
    ReactDOM.createRoot(document.getElementById('graphiql')).render(
      React.createElement(GraphiQL, { fetcher, defaultQuery: {{.Query}} })
    );
  </script>
</body>
</html>
`))

const playgroundQuery = `{
  plugins { id version status }
  pluginErrors { pluginId phase message }
}
`

func (h *Handler) playground(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := playgroundPage.Execute(c.Writer, map[string]string{
		"Endpoint": h.config.Path,
		"Query":    playgroundQuery,
	}); err != nil {
		h.logger.Warn("render playground", zap.Error(err))
	}
}
