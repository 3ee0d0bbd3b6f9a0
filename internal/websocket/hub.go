package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Pending status messages per client before it is dropped as too slow.
	sendBufferSize = 64

	broadcastBufferSize = 256
)

var upgrader = websocket.Upgrader{
	// Dashboards are served from a different origin than the API
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub fans recording status transitions out to subscribed dashboard clients.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Status messages waiting to be fanned out.
	broadcast chan *StatusMessage

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *StatusMessage, broadcastBufferSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and closes every client when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Status client registered", zap.String("subject", client.subject))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("Status client unregistered", zap.String("subject", client.subject))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg *StatusMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal status message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(msg) {
			continue
		}
		if !client.enqueue(payload) {
			h.logger.Warn("Dropping slow status client", zap.String("subject", client.subject))
			delete(h.clients, client)
			client.close()
		}
	}
}

// PublishStatus queues a status transition for every interested client. It never blocks.
func (h *Hub) PublishStatus(recordingID, restaurantID string, status entities.RecordingStatus, message string) {
	msg := CreateStatusMessage(recordingID, restaurantID, status, message)
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Status broadcast buffer full, dropping message",
			zap.String("recordingID", recordingID),
			zap.String("status", string(status)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Token subject, or the remote address when auth is disabled
	subject string

	logger *zap.Logger

	mu           sync.Mutex
	closed       bool
	restaurantID string
	recordingID  string
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
// A restaurant_id query parameter pre-selects the subscription.
func HandleWebSocket(hub *Hub, c echo.Context, subject string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	if subject == "" {
		subject = c.RealIP()
	}

	client := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		subject:      subject,
		logger:       logger,
		restaurantID: c.QueryParam("restaurant_id"),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

func (c *Client) wants(msg *StatusMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recordingID != "" {
		return c.recordingID == msg.RecordingID
	}
	if c.restaurantID != "" {
		return c.restaurantID == msg.RestaurantID
	}
	return true
}

// enqueue reports false when the client buffer is full
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// readPump handles subscription changes and pings from the dashboard.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	validator := NewMessageValidator()
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			continue
		}

		parsed, err := validator.ValidateMessage(message)
		if err != nil {
			c.reply(CreateErrorMessage("invalid_message", err.Error()))
			continue
		}

		switch msg := parsed.(type) {
		case *SubscribeMessage:
			c.mu.Lock()
			if msg.Type == MessageTypeUnsubscribe {
				c.restaurantID, c.recordingID = "", ""
			} else {
				c.restaurantID, c.recordingID = msg.RestaurantID, msg.RecordingID
			}
			c.mu.Unlock()
			c.logger.Debug("Subscription changed",
				zap.String("subject", c.subject),
				zap.String("restaurantID", msg.RestaurantID),
				zap.String("recordingID", msg.RecordingID))
		case *PingMessage:
			c.reply(CreatePongMessage(msg.Data))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
