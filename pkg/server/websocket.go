package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hyperstar-dev/hyperstar/pkg/action"
	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsConnection adapts a websocket to the hub's Connection interface.
// Events travel as JSON objects instead of SSE frames; incoming text
// messages are action requests answered on the same socket.
type wsConnection struct {
	id        string
	sessionID string
	conn      *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConnection) ID() string        { return c.id }
func (c *wsConnection) SessionID() string { return c.sessionID }

func (c *wsConnection) Send(ev protocol.Event) error {
	raw, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *wsConnection) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConnection) Close() error {
	return c.conn.Close()
}

// handleWebsocket serves GET {base}/ws, the bidirectional alternative
// to the SSE stream plus action POSTs.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := session.EnsureCookie(w, r, s.config.CookieName)
	s.sessions.GetOrCreate(sessionID)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := &wsConnection{id: uuid.NewString(), sessionID: sessionID, conn: ws}
	s.sessions.Attach(sessionID)
	s.hub.Register(conn)
	defer func() {
		s.hub.Unregister(conn.ID())
		s.sessions.Detach(sessionID)
	}()

	ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", "session", sessionID, "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var req protocol.ActionRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.logger.Warn("bad websocket frame", "session", sessionID, "error", err)
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		events, err := s.dispatcher.Dispatch(r.Context(), req)
		if err != nil {
			var verr *action.ValidationError
			switch {
			case errors.Is(err, action.ErrUnknownAction):
				conn.Send(protocol.Error("unknown_action", "unknown action"))
			case errors.As(err, &verr):
				conn.Send(protocol.Error("invalid_input", verr.Error()))
			default:
				conn.Send(protocol.Error("action_failed", "action failed"))
			}
			continue
		}
		for _, ev := range events {
			if err := conn.Send(ev); err != nil {
				return
			}
		}
	}
}
