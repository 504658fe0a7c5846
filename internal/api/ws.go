package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: the endpoint carries no credentials and
// sessions are connection-scoped.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// websocketHandler handles GET /ws. Each connection gets its own fresh
// session; messages are processed strictly one in, one out, in order.
// The session id is returned in the X-Session-Id upgrade header so the
// client can hit the state diagnostics endpoint, and the session is
// removed when the connection closes.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := s.mgr.Create()
	header := http.Header{}
	header.Set("X-Session-Id", sessionID)

	conn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		slog.Warn("websocketHandler: upgrade failed", "error", err, "remote", r.RemoteAddr)
		if removeErr := s.mgr.Remove(sessionID); removeErr != nil {
			slog.Warn("websocketHandler: failed to remove session after upgrade failure", "sessionID", sessionID)
		}
		return
	}
	wsConnectionsTotal.Inc()
	slog.Info("websocketHandler: connection opened", "sessionID", sessionID, "remote", r.RemoteAddr)

	defer func() {
		conn.Close()
		if err := s.mgr.Remove(sessionID); err != nil {
			slog.Warn("websocketHandler: session already gone on disconnect", "sessionID", sessionID)
		}
		slog.Info("websocketHandler: connection closed", "sessionID", sessionID)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocketHandler: read failed", "error", err, "sessionID", sessionID)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		reply := s.mgr.Process(r.Context(), sessionID, string(data))
		turnsTotal.WithLabelValues("ws").Inc()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			slog.Warn("websocketHandler: write failed", "error", err, "sessionID", sessionID)
			return
		}
	}
}
