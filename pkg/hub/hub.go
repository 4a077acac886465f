// Package hub is the fan-out layer between the reactive store and the
// live push connections. It can send an event to every connection, to
// one session's connections, or to a single connection, and it renders
// each session's view on every global state change.
//
// One broken tab must never affect others: a failed send unregisters
// and closes that connection only.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
)

// Connection is one live push-transport stream. Implementations own
// their outbound buffering so Send never blocks the hub; a Send that
// cannot make progress returns an error and the hub drops the
// connection.
type Connection interface {
	// ID identifies this connection uniquely.
	ID() string

	// SessionID is the session this connection belongs to.
	SessionID() string

	// Send enqueues one event for delivery.
	Send(ev protocol.Event) error

	// Ping sends a keep-alive frame to defeat idle transport timeouts.
	Ping() error

	// Close tears down the transport.
	Close() error
}

// Renderer produces the HTML for one session's view of the current
// state. It is the render collaborator: the hub only calls it, the
// application supplies it.
type Renderer func(sessionID string) (string, error)

// Observer receives hub activity for metrics. All methods must be
// cheap and non-blocking.
type Observer interface {
	EventSent(kind protocol.EventKind)
	ConnectionsChanged(n int)
}

// Config configures a Hub.
type Config struct {
	// RootID is the element id morph events target. Default "app".
	RootID string

	// KeepAliveInterval is the heartbeat cadence. Default 30s.
	KeepAliveInterval time.Duration

	// Logger is the hub logger. Default slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() *Config {
	return &Config{
		RootID:            "app",
		KeepAliveInterval: 30 * time.Second,
	}
}

// Hub registers and unregisters live connections and fans events out
// to them.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]Connection
	bySession map[string]map[string]Connection

	renderer Renderer
	rootID   string

	nextEventID atomic.Uint64

	// presenceMu serializes presence transitions so pause/resume
	// downstream is race-free against concurrent connect/disconnect.
	presenceMu sync.Mutex
	onPresence []func(active bool)

	observer Observer
	logger   *slog.Logger

	keepAlive time.Duration
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a hub and starts its keep-alive loop.
func New(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.RootID == "" {
		config.RootID = defaults.RootID
	}
	if config.KeepAliveInterval == 0 {
		config.KeepAliveInterval = defaults.KeepAliveInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		conns:     make(map[string]Connection),
		bySession: make(map[string]map[string]Connection),
		rootID:    config.RootID,
		keepAlive: config.KeepAliveInterval,
		logger:    logger.With("component", "hub"),
		done:      make(chan struct{}),
	}

	h.wg.Add(1)
	go h.keepAliveLoop()
	return h
}

// SetRenderer installs the per-session render function used for morph
// fan-out on state changes.
func (h *Hub) SetRenderer(r Renderer) {
	h.mu.Lock()
	h.renderer = r
	h.mu.Unlock()
}

// SetObserver installs a metrics observer.
func (h *Hub) SetObserver(o Observer) {
	h.mu.Lock()
	h.observer = o
	h.mu.Unlock()
}

// OnPresence registers fn to be called when the live connection count
// transitions between zero and non-zero. Transitions are serialized;
// fn is never invoked concurrently with itself.
func (h *Hub) OnPresence(fn func(active bool)) {
	h.presenceMu.Lock()
	h.onPresence = append(h.onPresence, fn)
	h.presenceMu.Unlock()
}

// Register adds a live connection.
func (h *Hub) Register(c Connection) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	h.mu.Lock()
	wasEmpty := len(h.conns) == 0
	h.conns[c.ID()] = c
	sess := h.bySession[c.SessionID()]
	if sess == nil {
		sess = make(map[string]Connection)
		h.bySession[c.SessionID()] = sess
	}
	sess[c.ID()] = c
	n := len(h.conns)
	obs := h.observer
	h.mu.Unlock()

	if obs != nil {
		obs.ConnectionsChanged(n)
	}
	h.logger.Debug("connection registered", "connection_id", c.ID(), "session_id", c.SessionID(), "total", n)

	if wasEmpty {
		for _, fn := range h.onPresence {
			fn(true)
		}
	}
}

// Unregister removes a connection and closes it. Unknown ids are a
// no-op.
func (h *Hub) Unregister(connectionID string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	h.mu.Lock()
	c, ok := h.conns[connectionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connectionID)
	if sess, ok := h.bySession[c.SessionID()]; ok {
		delete(sess, connectionID)
		if len(sess) == 0 {
			delete(h.bySession, c.SessionID())
		}
	}
	n := len(h.conns)
	obs := h.observer
	h.mu.Unlock()

	c.Close()
	if obs != nil {
		obs.ConnectionsChanged(n)
	}
	h.logger.Debug("connection unregistered", "connection_id", connectionID, "total", n)

	if n == 0 {
		for _, fn := range h.onPresence {
			fn(false)
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends an event to every live connection. Each delivery
// gets its own stamped id.
func (h *Hub) Broadcast(ev protocol.Event) {
	for _, c := range h.snapshot() {
		h.send(c, ev)
	}
}

// SendToSession sends an event to every connection of one session.
func (h *Hub) SendToSession(sessionID string, ev protocol.Event) {
	for _, c := range h.sessionSnapshot(sessionID) {
		h.send(c, ev)
	}
}

// SendTo sends an event to a single connection.
func (h *Hub) SendTo(connectionID string, ev protocol.Event) {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if ok {
		h.send(c, ev)
	}
}

// BroadcastRender re-renders every session's view and sends a morph
// to each of that session's connections. Called once per distinct
// global state change; each change produces exactly one rendered push
// per live connection.
func (h *Hub) BroadcastRender() {
	h.mu.RLock()
	renderer := h.renderer
	sessions := make(map[string][]Connection, len(h.bySession))
	for sid, conns := range h.bySession {
		for _, c := range conns {
			sessions[sid] = append(sessions[sid], c)
		}
	}
	h.mu.RUnlock()

	if renderer == nil {
		return
	}

	for sid, conns := range sessions {
		html, err := renderer(sid)
		if err != nil {
			// A render failure skips this session's send; the fan-out
			// loop keeps going for everyone else.
			h.logger.Error("render failed", "session_id", sid, "error", err)
			continue
		}
		ev := protocol.Morph(h.rootID, html)
		for _, c := range conns {
			h.send(c, ev)
		}
	}
}

// RenderSession re-renders one session's view and morphs only that
// session's connections. Called on per-session state changes.
func (h *Hub) RenderSession(sessionID string) {
	h.mu.RLock()
	renderer := h.renderer
	h.mu.RUnlock()
	if renderer == nil {
		return
	}

	conns := h.sessionSnapshot(sessionID)
	if len(conns) == 0 {
		return
	}
	html, err := renderer(sessionID)
	if err != nil {
		h.logger.Error("render failed", "session_id", sessionID, "error", err)
		return
	}
	ev := protocol.Morph(h.rootID, html)
	for _, c := range conns {
		h.send(c, ev)
	}
}

// send stamps and delivers one event, isolating failures: a dead
// connection is dropped, never propagated.
func (h *Hub) send(c Connection, ev protocol.Event) {
	ev.ID = h.nextEventID.Add(1)
	if err := c.Send(ev); err != nil {
		h.logger.Warn("send failed, dropping connection",
			"connection_id", c.ID(), "session_id", c.SessionID(), "error", err)
		h.Unregister(c.ID())
		return
	}

	h.mu.RLock()
	obs := h.observer
	h.mu.RUnlock()
	if obs != nil {
		obs.EventSent(ev.Kind)
	}
}

func (h *Hub) snapshot() []Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) sessionSnapshot(sessionID string) []Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess := h.bySession[sessionID]
	out := make([]Connection, 0, len(sess))
	for _, c := range sess {
		out = append(out, c)
	}
	return out
}

// keepAliveLoop pings every connection on a fixed cadence. Transports
// turn the ping into a comment frame (SSE) or control frame (ws).
func (h *Hub) keepAliveLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			for _, c := range h.snapshot() {
				if err := c.Ping(); err != nil {
					h.logger.Warn("keep-alive failed, dropping connection",
						"connection_id", c.ID(), "error", err)
					h.Unregister(c.ID())
				}
			}
		}
	}
}

// Close stops the keep-alive loop and closes every connection.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		for _, c := range h.snapshot() {
			h.Unregister(c.ID())
		}
	})
}
