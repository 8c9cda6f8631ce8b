package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BritoCeo/londa-rides-relay/internal/protocol"
)

const (
	readDeadline = 90 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport adapts *websocket.Conn to registry.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteJSON(v any) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error { return t.conn.Close() }

// handleWS accepts one persistent connection and runs its read loop. All exit
// paths, graceful close included, funnel into the router's single cleanup.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	connID := uuid.NewString()
	transport := &wsTransport{conn: conn}
	if !s.conns.Add(connID, transport, "", "") {
		s.logger.Warn("connection rejected, capacity reached", "remote_addr", r.RemoteAddr)
		_ = transport.WriteJSON(protocol.Error("relay at capacity", nil))
		_ = conn.Close()
		return
	}
	s.logger.Info("connection accepted", "conn_id", connID, "remote_addr", r.RemoteAddr)

	_ = transport.WriteJSON(protocol.Status("connected", map[string]any{"connectionId": connID}))

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		s.conns.Touch(connID)
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	defer func() {
		s.router.HandleClose(connID)
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("ws read error", "conn_id", connID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		s.router.HandleFrame(connID, raw)
	}
}
