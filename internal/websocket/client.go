package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10 // must stay below pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// MessageType discriminates stream frames
type MessageType string

const (
	MessageTypeEvent       MessageType = "event"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeError       MessageType = "error"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeAck         MessageType = "ack"
)

// Message is one frame of the lifecycle stream
type Message struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Event     string      `json:"event,omitempty"`
	PluginID  string      `json:"pluginId,omitempty"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEventMessage creates a new event message
func NewEventMessage(event, pluginID string, data any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeEvent,
		Event:     event,
		PluginID:  pluginID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

var (
	errMalformed   = errors.New("malformed message")
	errMissingType = errors.New("message type is required")
)

func newReply(msgType MessageType, data any) *Message {
	return &Message{Type: msgType, Data: data, Timestamp: time.Now()}
}

// Client is one stream subscriber. A client with no plugin filters
// receives every event.
type Client struct {
	ID      string
	Subject string

	// filters is owned by the hub goroutine
	filters map[string]bool

	hub    *Hub
	conn   *websocket.Conn
	send   chan *Message
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, subject string, logger *zap.Logger) *Client {
	return &Client{
		ID:      uuid.New().String(),
		Subject: subject,
		filters: make(map[string]bool),
		hub:     hub,
		conn:    conn,
		send:    make(chan *Message, sendBufferSize),
		logger:  logger,
	}
}

// ReadPump reads control frames from the connection until it fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
			}
			return
		}

		message, err := decodeMessage(data)
		if err != nil {
			c.Send(newReply(MessageTypeError, err.Error()))
			continue
		}
		c.handleMessage(message)
	}
}

// WritePump writes queued messages and keepalive pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("failed to write message",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decodeMessage(data []byte) (*Message, error) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, errMalformed
	}
	if message.Type == "" {
		return nil, errMissingType
	}
	return &message, nil
}

func (c *Client) handleMessage(message *Message) {
	switch message.Type {
	case MessageTypePing:
		c.Send(newReply(MessageTypePong, nil))

	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		pluginID, ok := message.Data.(string)
		if !ok || pluginID == "" {
			c.Send(newReply(MessageTypeError, "plugin id expected in data"))
			return
		}
		action := "subscribed"
		if message.Type == MessageTypeSubscribe {
			c.hub.Subscribe(c, pluginID)
		} else {
			action = "unsubscribed"
			c.hub.Unsubscribe(c, pluginID)
		}
		c.Send(newReply(MessageTypeAck, map[string]string{"action": action, "pluginId": pluginID}))

	default:
		c.Send(newReply(MessageTypeError, "unsupported message type"))
	}
}

// Send queues message without blocking. It reports false when the buffer
// is full or the client is closed.
func (c *Client) Send(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("client send buffer full", zap.String("client_id", c.ID))
		return false
	}
}

// closeSend stops the write pump; later sends are dropped
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
