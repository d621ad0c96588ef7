// Package ws provides the WebSocket endpoint clients speak the protocol on.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/ellenfel/Model-Context-Protocol/internal/config"
	"github.com/ellenfel/Model-Context-Protocol/internal/hub"
	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
	"github.com/ellenfel/Model-Context-Protocol/internal/session"
)

// cleanupTimeout bounds context removal after a connection goes away.
const cleanupTimeout = 5 * time.Second

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	sessions *session.Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, sessions *session.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		hub:      h,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", slog.String("err", err.Error()))
		return err
	}

	// The request context ends when this handler returns, so the connection
	// gets its own.
	conn := s.hub.NewConnection(context.Background(), ws)
	if err := s.hub.Register(conn); err != nil {
		conn.Close()
		return err
	}

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	sess := s.sessions.Open(conn.ID)

	s.logger.Info("client connected",
		slog.String("connectionID", conn.ID),
		slog.String("remote", c.RealIP()))

	frames := make(chan frame, 1)
	go s.writePump(conn)
	go s.readPump(conn, frames)
	go s.processLoop(conn, sess, frames)

	return nil
}

// frame is one inbound WebSocket message.
type frame struct {
	messageType int
	data        []byte
}

// readPump reads frames off the socket. It keeps reading while a frame is
// being processed so that a peer going away cancels the in-flight work.
func (s *Server) readPump(conn *hub.Connection, frames chan<- frame) {
	defer func() {
		close(frames)
		conn.Abort()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		messageType, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed",
					slog.String("connectionID", conn.ID),
					slog.String("err", err.Error()))
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		select {
		case frames <- frame{messageType: messageType, data: data}:
		case <-conn.Context().Done():
			return
		}
	}
}

// processLoop handles frames strictly one at a time and queues exactly one
// reply per frame. It owns the session and releases it on exit.
func (s *Server) processLoop(conn *hub.Connection, sess *session.Session, frames <-chan frame) {
	logger := s.logger.With(slog.String("connectionID", conn.ID))
	defer func() {
		conn.Abort()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := sess.Close(ctx); err != nil {
			logger.Error("failed to remove context", slog.String("err", err.Error()))
		}
		s.hub.Unregister(conn)
		conn.Close()
		logger.Info("client disconnected")
	}()

	for f := range frames {
		requestID := ulid.Make().String()
		reqLogger := logger.With(slog.String("requestID", requestID))

		reply, err := s.handleFrame(conn.Context(), sess, f.messageType, f.data)
		if errors.Is(err, session.ErrSessionClosed) {
			return
		}
		if conn.Context().Err() != nil {
			reqLogger.Debug("connection gone, discarding reply")
			return
		}

		out, err := protocol.Serialize(reply)
		if err != nil {
			reqLogger.Error("failed to serialize reply", slog.String("err", err.Error()))
			continue
		}
		reqLogger.Debug("frame handled",
			slog.String("reply", string(reply.Type)),
			slog.Int("bytes", len(f.data)))

		if err := s.hub.SendToConnection(conn, out); err != nil {
			reqLogger.Warn("failed to queue reply, closing connection", slog.String("err", err.Error()))
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, sess *session.Session, messageType int, data []byte) (*protocol.Message, error) {
	if messageType != websocket.TextMessage {
		return protocol.NewErrorMessage(protocol.InvalidMessage(
			fmt.Errorf("unsupported websocket frame type %d, expected text", messageType))), nil
	}
	return sess.Handle(ctx, data)
}

// writePump drains the send queue in order and keeps the connection alive.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// Unblocks readPump, which ends processLoop.
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{}, s.cfg.WriteTimeout)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message, s.cfg.WriteTimeout); err != nil {
				s.logger.Warn("failed to write message",
					slog.String("connectionID", conn.ID),
					slog.String("err", err.Error()))
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil, s.cfg.WriteTimeout); err != nil {
				return
			}
		}
	}
}
