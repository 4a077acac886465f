package server

import (
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
)

// errSendBufferFull is returned when a client falls behind; the hub
// reacts by unregistering the connection.
var errSendBufferFull = errors.New("server: sse send buffer full")

// outbound is one queued write: an event or a keep-alive comment.
type outbound struct {
	event   protocol.Event
	comment string
}

// sseConnection adapts one open event-stream response to the hub's
// Connection interface. Send and Ping enqueue; the handler goroutine
// owns the ResponseWriter and drains the queue.
type sseConnection struct {
	id        string
	sessionID string
	out       chan outbound

	closeOnce sync.Once
	closed    chan struct{}
}

func newSSEConnection(sessionID string, buffer int) *sseConnection {
	return &sseConnection{
		id:        uuid.NewString(),
		sessionID: sessionID,
		out:       make(chan outbound, buffer),
		closed:    make(chan struct{}),
	}
}

func (c *sseConnection) ID() string        { return c.id }
func (c *sseConnection) SessionID() string { return c.sessionID }

func (c *sseConnection) Send(ev protocol.Event) error {
	select {
	case <-c.closed:
		return errors.New("server: connection closed")
	case c.out <- outbound{event: ev}:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *sseConnection) Ping() error {
	select {
	case <-c.closed:
		return errors.New("server: connection closed")
	case c.out <- outbound{comment: "keep-alive"}:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *sseConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// handleEvents serves GET {base}/events as a server-sent event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := session.EnsureCookie(w, r, s.config.CookieName)
	s.sessions.GetOrCreate(sessionID)

	// Register before the headers go out, so a client that has seen
	// the 200 is guaranteed to receive subsequent broadcasts.
	conn := newSSEConnection(sessionID, s.config.SendBuffer)
	s.sessions.Attach(sessionID)
	s.hub.Register(conn)
	defer func() {
		s.hub.Unregister(conn.ID())
		s.sessions.Detach(sessionID)
		conn.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A reconnecting client presents the last id it saw. There is no
	// event log to replay, so catch it up with a fresh render of its
	// session instead.
	if r.Header.Get("Last-Event-ID") != "" {
		s.hub.RenderSession(sessionID)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.closed:
			return
		case item := <-conn.out:
			var err error
			if item.comment != "" {
				err = protocol.WriteComment(w, item.comment)
			} else {
				err = protocol.WriteEvent(w, item.event)
			}
			if err != nil {
				s.logger.Debug("event stream write failed", "session", sessionID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
