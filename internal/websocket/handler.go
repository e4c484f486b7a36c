package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/dto/response"
	"github.com/jrjohn/arcana-plugin-runtime/internal/security"
)

// Handler upgrades lifecycle stream requests
type Handler struct {
	config         *config.WebSocketConfig
	allowedOrigins []string
	hub            *Hub
	upgrader       websocket.Upgrader
	jwtProvider    *security.JWTProvider
	logger         *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(
	cfg *config.WebSocketConfig,
	allowedOrigins []string,
	hub *Hub,
	jwtProvider *security.JWTProvider,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		config:         cfg,
		allowedOrigins: allowedOrigins,
		hub:            hub,
		jwtProvider:    jwtProvider,
		logger:         logger,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EnableCompression: cfg.EnableCompression,
		CheckOrigin:       h.checkOrigin,
	}

	return h
}

// RegisterRoutes registers WebSocket routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET(h.config.Path, h.handleWebSocket)
	router.GET(h.config.Path+"/status", h.handleStatus)
}

func requestToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// handleWebSocket authenticates and upgrades a stream request. Each
// "plugin" query parameter adds an initial plugin id filter.
func (h *Handler) handleWebSocket(c *gin.Context) {
	var subject string
	if token := requestToken(c); token != "" && h.jwtProvider != nil {
		if claims, err := h.jwtProvider.ValidateAccessToken(token); err == nil {
			subject = claims.Subject
		}
	}
	if h.config.RequireAuth && subject == "" {
		c.JSON(http.StatusUnauthorized, response.NewError[any]("valid access token required"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, subject, h.logger)
	for _, pluginID := range c.QueryArray("plugin") {
		if pluginID != "" {
			client.filters[pluginID] = true
		}
	}

	filters := make([]string, 0, len(client.filters))
	for pluginID := range client.filters {
		filters = append(filters, pluginID)
	}

	h.hub.Register(client)
	client.Send(&Message{
		Type:  MessageTypeEvent,
		Event: "connected",
		Data: map[string]any{
			"clientId": client.ID,
			"plugins":  filters,
		},
		Timestamp: time.Now(),
	})

	go client.WritePump()
	go client.ReadPump()
}

// handleStatus returns hub status
func (h *Handler) handleStatus(c *gin.Context) {
	metrics := h.hub.GetMetrics()

	c.JSON(http.StatusOK, response.NewSuccessWithData(gin.H{
		"activeConnections": metrics.ActiveConnections,
		"totalConnections":  metrics.TotalConnections,
		"totalMessages":     metrics.TotalMessages,
		"totalBroadcasts":   metrics.TotalBroadcasts,
		"droppedMessages":   metrics.DroppedMessages,
		"filteredPlugins":   h.hub.GetFilteredPluginCount(),
	}))
}

// checkOrigin checks if the origin is allowed
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// StartHeartbeat broadcasts a ping every HeartbeatInterval until ctx ends
func (h *Handler) StartHeartbeat(ctx context.Context) {
	if h.config.HeartbeatInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(h.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.hub.SendHeartbeat()
			}
		}
	}()
}
