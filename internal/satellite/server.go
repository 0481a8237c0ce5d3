// ABOUTME: WebSocket endpoint where satellite processes connect and register
// ABOUTME: Handles the registration handshake and pumps the read loop into the hub

package satellite

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/logicleai/logicle/internal/auth"
)

const registerTimeout = 10 * time.Second

// Server accepts satellite WebSocket connections.
type Server struct {
	hub      *Hub
	resolver auth.ProfileResolver
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates the satellite endpoint handler. The resolver
// verifies the bearer credential carried by connecting satellites; a
// nil resolver accepts unauthenticated registrations.
func NewServer(hub *Hub, resolver auth.ProfileResolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:      hub,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With("component", "satellite-server"),
	}
}

// ServeHTTP upgrades the request and runs the connection until the
// socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bearer, _ := auth.ExtractBearerToken(r.Header.Get("Authorization"))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn, err := s.handshake(r.Context(), ws, bearer)
	if err != nil {
		return
	}

	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	s.readLoop(ws, conn)
}

// handshake reads the registration frame and authenticates the
// credential. The first frame must be a register message; anything else
// is a protocol violation and the socket is closed.
func (s *Server) handshake(ctx context.Context, ws *websocket.Conn, bearer string) (*Connection, error) {
	ws.SetReadDeadline(time.Now().Add(registerTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var msg Message
	if err := ws.ReadJSON(&msg); err != nil {
		s.logger.Warn("failed reading registration frame", "error", err)
		return nil, err
	}
	if msg.Type != MessageTypeRegister || msg.Name == "" {
		s.logger.Warn("first frame was not a valid registration", "type", msg.Type)
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "expected register message"))
		return nil, ErrSocketNotOpen
	}

	conn := NewConnection(msg.Name, msg.Tools, ws, s.logger)

	if s.resolver != nil {
		profile, err := s.authenticate(ctx, bearer)
		if err != nil {
			s.logger.Warn("satellite authentication failed", "satellite", msg.Name, "error", err)
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
			return nil, err
		}
		conn.Authenticated = true
		s.logger.Info("satellite authenticated", "satellite", msg.Name, "user", profile.UserID)
	}

	return conn, nil
}

func (s *Server) authenticate(ctx context.Context, bearer string) (*auth.Profile, error) {
	if bearer == "" {
		return nil, auth.ErrInvalidToken
	}
	profile, err := s.resolver.WhoAmI(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if !profile.HasElevatedRole() {
		return nil, auth.ErrNotElevated
	}
	return profile, nil
}

// readLoop routes incoming frames until the socket errors or closes.
func (s *Server) readLoop(ws *websocket.Conn, conn *Connection) {
	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("satellite socket error", "satellite", conn.Name, "error", err)
			}
			return
		}

		switch msg.Type {
		case MessageTypeToolResult:
			conn.HandleResult(&msg)
		case MessageTypeToolOutput:
			conn.HandleOutput(&msg)
		default:
			s.logger.Warn("unexpected message from satellite",
				"satellite", conn.Name, "type", msg.Type)
		}
	}
}
