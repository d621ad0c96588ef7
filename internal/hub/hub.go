// Package hub tracks live WebSocket connections.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// ErrHubStopped is returned when registering with a hub that is not running.
var ErrHubStopped = errors.New("hub stopped")

// ErrUnknownConnection is returned when sending to an unregistered connection.
var ErrUnknownConnection = errors.New("connection not registered")

// SendBufferSize is the number of outbound frames queued per connection.
const SendBufferSize = 256

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Context is cancelled when the connection goes away, aborting any work
// started on its behalf.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Abort cancels the connection context.
func (c *Connection) Abort() {
	c.cancel()
}

// WriteMessage writes a frame with the write deadline applied.
func (c *Connection) WriteMessage(messageType int, data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.Conn.WriteMessage(messageType, data)
}

// Close aborts the connection context and closes the socket.
func (c *Connection) Close() error {
	c.cancel()
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// Hub manages all WebSocket connections.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		logger:      logger.With(slog.String("component", "hub")),
	}
}

// Run processes registrations until ctx is cancelled. Remaining connections
// are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, conn := range h.connections {
			delete(h.connections, id)
			close(conn.Send)
			conn.Abort()
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			n := len(h.connections)
			h.mu.Unlock()
			h.logger.Debug("connection registered",
				slog.String("connectionID", conn.ID),
				slog.Int("connections", n))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			n := len(h.connections)
			h.mu.Unlock()
			h.logger.Debug("connection unregistered",
				slog.String("connectionID", conn.ID),
				slog.Int("connections", n))

		case <-ctx.Done():
			return
		}
	}
}

// NewConnection wraps ws with a fresh connection id. The connection context
// derives from parent.
func (h *Hub) NewConnection(parent context.Context, ws *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, SendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) error {
	select {
	case h.register <- conn:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes a connection and closes its send channel. Unregistering
// twice is a no-op.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// SendToConnection queues data for a connection without blocking.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrUnknownConnection
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
