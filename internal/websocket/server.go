package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/pkg/logger"
)

// Message types exchanged with operator clients
const (
	MessageTypeNotification  = "notification"   // Server pushes a slot notification
	MessageTypeCommand       = "command"        // Client sends a text command
	MessageTypeCommandResult = "command_result" // Server replies to that client only
	MessageTypeSubscribe     = "subscribe"      // Client limits notifications to some slots
	MessageTypeError         = "error"
)

const (
	sendBufferSize      = 256
	broadcastBufferSize = 256
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = (pongWait * 9) / 10
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// MessageHandler defines the interface for handling incoming WebSocket messages
type MessageHandler interface {
	HandleMessage(client *Client, messageType string, data map[string]any) error
}

// Client represents a WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	slots     map[int]bool // nil = all slots
}

// Server is the operator hub: it fans notifications out to every connected
// client and routes inbound messages to the MessageHandler
type Server struct {
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *Message
	done           chan struct{}
	upgrader       websocket.Upgrader
	logger         *logger.Logger
	mu             sync.RWMutex
	messageHandler MessageHandler
	dropped        int
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, broadcastBufferSize),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Access is gated by the API token instead
			},
		},
		logger: log.Named("web-socket"),
	}
}

// SetMessageHandler sets the message handler for incoming WebSocket messages
func (s *Server) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandler = handler
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				client.shutdown()
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.shutdown()
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Slow client, drop it rather than stall the hub
					s.logger.Warn("Client send buffer full, disconnecting")
					delete(s.clients, client)
					client.shutdown()
				}
			}
			s.mu.Unlock()
		}
	}
}

// ClientCount returns the number of registered clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection handles a WebSocket connection
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("Operator connected",
		String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:      conn,
		send:      make(chan *Message, sendBufferSize),
		server:    s,
		closeChan: make(chan struct{}),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for all clients without blocking
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn("Broadcast queue full, dropping message",
			String("message_type", message.Type))
	}
}

// Dropped returns how many broadcasts were discarded because the queue was full
func (s *Server) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Name implements notify.Sink
func (s *Server) Name() string { return "websocket" }

// Deliver implements notify.Sink
func (s *Server) Deliver(n notify.Notification) error {
	s.Broadcast(&Message{
		Type: MessageTypeNotification,
		Data: map[string]any{
			"id":       n.ID,
			"slot":     n.Slot,
			"identity": n.Identity,
			"kind":     string(n.Kind),
			"message":  n.Message,
			"time":     n.Time,
		},
	})
	return nil
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Warn("Failed to parse WebSocket message", Error(err))
			c.SendMessage(&Message{Type: MessageTypeError, Data: map[string]any{"message": "invalid JSON"}})
			continue
		}

		if message.Type == MessageTypeSubscribe {
			c.subscribe(message.Data)
			continue
		}

		c.server.mu.RLock()
		handler := c.server.messageHandler
		c.server.mu.RUnlock()
		if handler == nil {
			continue
		}
		if err := handler.HandleMessage(c, message.Type, message.Data); err != nil {
			c.server.logger.Warn("Failed to handle WebSocket message",
				Error(err),
				String("type", message.Type))
			c.SendMessage(&Message{Type: MessageTypeError, Data: map[string]any{"message": err.Error()}})
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
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
			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// shutdown closes the send channel once. Callers hold s.mu.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closeChan:
	default:
		close(c.closeChan)
	}
	c.conn.Close()
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// subscribe limits notifications to the given slots. An empty list
// restores all slots.
func (c *Client) subscribe(data map[string]any) {
	raw, _ := data["slots"].([]any)
	var slots map[int]bool
	for _, v := range raw {
		// JSON numbers decode as float64
		if f, ok := v.(float64); ok && f > 0 {
			if slots == nil {
				slots = make(map[int]bool)
			}
			slots[int(f)] = true
		}
	}
	c.mu.Lock()
	c.slots = slots
	c.mu.Unlock()
}

// wants reports whether message passes the client's slot filter
func (c *Client) wants(message *Message) bool {
	if message.Type != MessageTypeNotification {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots == nil {
		return true
	}
	slot, _ := message.Data["slot"].(int)
	return c.slots[slot]
}

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
