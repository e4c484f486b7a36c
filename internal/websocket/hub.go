// Package websocket streams plugin lifecycle events to admin clients.
package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

// Hub maintains active clients and fans lifecycle events out to them
type Hub struct {
	clients map[*Client]bool

	// Clients by plugin id filter
	pluginClients map[string]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	subscribe  chan *filterOperation

	done     chan struct{}
	stopOnce sync.Once

	mutex   sync.RWMutex
	logger  *zap.Logger
	metrics *HubMetrics
}

// HubMetrics holds hub metrics
type HubMetrics struct {
	TotalConnections  int64
	ActiveConnections int64
	TotalMessages     int64
	TotalBroadcasts   int64
	DroppedMessages   int64
	mutex             sync.RWMutex
}

type filterOperation struct {
	client   *Client
	pluginID string
	add      bool
}

// NewHub creates a new hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		pluginClients: make(map[string]map[*Client]bool),
		broadcast:     make(chan *Message, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan *filterOperation),
		done:          make(chan struct{}),
		logger:        logger.Named("event_hub"),
		metrics:       &HubMetrics{},
	}
}

// Run serves the hub until ctx is cancelled or Stop is called
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-h.done:
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case op := <-h.subscribe:
			h.handleFilter(op)

		case message := <-h.broadcast:
			h.handleBroadcast(message)
		}
	}
}

// Stop ends Run and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.closeSend()
	}
	h.clients = make(map[*Client]bool)
	h.pluginClients = make(map[string]map[*Client]bool)

	h.metrics.mutex.Lock()
	h.metrics.ActiveConnections = 0
	h.metrics.mutex.Unlock()
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	for pluginID := range client.filters {
		h.addFilter(client, pluginID)
	}

	h.metrics.mutex.Lock()
	h.metrics.TotalConnections++
	h.metrics.ActiveConnections++
	h.metrics.mutex.Unlock()

	h.logger.Debug("client registered",
		zap.String("client_id", client.ID),
		zap.String("subject", client.Subject),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.closeSend()
	for pluginID := range client.filters {
		h.removeFilter(client, pluginID)
	}

	h.metrics.mutex.Lock()
	h.metrics.ActiveConnections--
	h.metrics.mutex.Unlock()

	h.logger.Debug("client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) handleFilter(op *filterOperation) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[op.client]; !ok {
		return
	}
	if op.add {
		op.client.filters[op.pluginID] = true
		h.addFilter(op.client, op.pluginID)
		return
	}
	delete(op.client.filters, op.pluginID)
	h.removeFilter(op.client, op.pluginID)
}

func (h *Hub) addFilter(client *Client, pluginID string) {
	if _, ok := h.pluginClients[pluginID]; !ok {
		h.pluginClients[pluginID] = make(map[*Client]bool)
	}
	h.pluginClients[pluginID][client] = true
}

func (h *Hub) removeFilter(client *Client, pluginID string) {
	if clients, ok := h.pluginClients[pluginID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.pluginClients, pluginID)
		}
	}
}

// handleBroadcast delivers events to unfiltered clients and to clients
// filtering on the event's plugin id. Other message types reach everyone.
func (h *Hub) handleBroadcast(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	h.metrics.mutex.Lock()
	h.metrics.TotalBroadcasts++
	h.metrics.mutex.Unlock()

	var delivered, dropped int64
	for client := range h.clients {
		if message.Type == MessageTypeEvent && len(client.filters) > 0 && !h.pluginClients[message.PluginID][client] {
			continue
		}
		if client.Send(message) {
			delivered++
		} else {
			dropped++
		}
	}

	h.metrics.mutex.Lock()
	h.metrics.TotalMessages += delivered
	h.metrics.DroppedMessages += dropped
	h.metrics.mutex.Unlock()
}

// Register adds client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

// Unregister removes client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe restricts client to events of pluginID, in addition to any
// plugin ids it already follows
func (h *Hub) Subscribe(client *Client, pluginID string) {
	select {
	case h.subscribe <- &filterOperation{client: client, pluginID: pluginID, add: true}:
	case <-h.done:
	}
}

// Unsubscribe drops a plugin id filter. A client left with no filters
// receives every event again.
func (h *Hub) Unsubscribe(client *Client, pluginID string) {
	select {
	case h.subscribe <- &filterOperation{client: client, pluginID: pluginID}:
	case <-h.done:
	}
}

// Broadcast queues message for delivery. It drops the message once the
// hub is stopped.
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Forward subscribes the hub to a lifecycle topic on bus. The returned
// function cancels the subscription.
func (h *Hub) Forward(bus api.PubSub, topic string) (func(), error) {
	return bus.Subscribe(topic, func(_ context.Context, payload map[string]any) {
		event, _ := payload["type"].(string)
		pluginID, _ := payload["pluginId"].(string)
		h.Broadcast(NewEventMessage(event, pluginID, payload))
	})
}

// GetClientCount returns the number of active clients
func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// GetFilteredPluginCount returns the number of plugin ids some client follows
func (h *Hub) GetFilteredPluginCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.pluginClients)
}

// GetMetrics returns a copy of the hub metrics
func (h *Hub) GetMetrics() HubMetrics {
	h.metrics.mutex.RLock()
	defer h.metrics.mutex.RUnlock()
	return HubMetrics{
		TotalConnections:  h.metrics.TotalConnections,
		ActiveConnections: h.metrics.ActiveConnections,
		TotalMessages:     h.metrics.TotalMessages,
		TotalBroadcasts:   h.metrics.TotalBroadcasts,
		DroppedMessages:   h.metrics.DroppedMessages,
	}
}

// SendHeartbeat sends a ping event to all clients
func (h *Hub) SendHeartbeat() {
	h.Broadcast(&Message{Type: MessageTypePing, Timestamp: time.Now()})
}
