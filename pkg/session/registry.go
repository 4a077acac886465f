// Package session maps a stable client identity to its connection
// count, its signal snapshot, and the metadata the action pipeline
// exposes to handlers. Identity is established by cookie on first HTTP
// contact and survives reconnects; the registry itself never rejects an
// unknown session, it synthesizes one.
package session

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Session is the stable identity for one browser profile across
// reconnects. Many live connections (tabs) may share one session.
type Session struct {
	// ID is an opaque stable identifier.
	ID string

	// UserID is set once the session is associated with an
	// authenticated user, empty otherwise.
	UserID string

	// ConnectedAt is when the session was first seen.
	ConnectedAt time.Time
}

// entry carries the registry-private state for one session.
type entry struct {
	session     Session
	connections int

	// signals is the last signal snapshot seen from this session,
	// merged underneath action args on dispatch. Cleared when the last
	// connection detaches.
	signals map[string]any
}

// Registry is the process-scoped session table. It is explicit state
// passed through construction, never a package singleton, so multiple
// server instances can coexist in tests.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger

	// onLastDetach is invoked after a session's last connection closes,
	// with the registry unlocked. Used to purge signal caches elsewhere.
	onLastDetach []func(sessionID string)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "session"),
	}
}

// GetOrCreate returns the session with the given id, creating it if
// absent. Operations on an unknown session never error: sessions are
// created lazily by client contact, not explicit registration.
func (r *Registry) GetOrCreate(sessionID string) Session {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if ok {
		return e.session
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		return e.session
	}
	e = &entry{
		session: Session{ID: sessionID, ConnectedAt: time.Now()},
		signals: make(map[string]any),
	}
	r.entries[sessionID] = e
	r.logger.Debug("session created", "session_id", sessionID)
	return e.session
}

// Lookup returns the session if it exists.
func (r *Registry) Lookup(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// SetUserID associates an authenticated user with the session.
func (r *Registry) SetUserID(sessionID, userID string) {
	r.GetOrCreate(sessionID)
	r.mu.Lock()
	r.entries[sessionID].session.UserID = userID
	r.mu.Unlock()
}

// Attach records a new live connection for the session and returns the
// updated connection count.
func (r *Registry) Attach(sessionID string) int {
	r.GetOrCreate(sessionID)
	r.mu.Lock()
	e := r.entries[sessionID]
	e.connections++
	n := e.connections
	r.mu.Unlock()
	return n
}

// Detach records a closed connection. When the last connection for the
// session closes, the signal snapshot is cleared and last-detach hooks
// run; the session record itself is retained until Purge.
func (r *Registry) Detach(sessionID string) int {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	if e.connections > 0 {
		e.connections--
	}
	n := e.connections
	var hooks []func(string)
	if n == 0 {
		e.signals = make(map[string]any)
		hooks = append(hooks, r.onLastDetach...)
	}
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(sessionID)
	}
	return n
}

// OnLastDetach registers fn to run after a session's last connection
// closes.
func (r *Registry) OnLastDetach(fn func(sessionID string)) {
	r.mu.Lock()
	r.onLastDetach = append(r.onLastDetach, fn)
	r.mu.Unlock()
}

// Connections returns the live connection count for the session.
func (r *Registry) Connections(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[sessionID]; ok {
		return e.connections
	}
	return 0
}

// MergeSignals folds a client signal snapshot into the session's
// stored snapshot. Later values win per name.
func (r *Registry) MergeSignals(sessionID string, patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	r.GetOrCreate(sessionID)
	r.mu.Lock()
	maps.Copy(r.entries[sessionID].signals, patch)
	r.mu.Unlock()
}

// Signals returns a copy of the session's signal snapshot.
func (r *Registry) Signals(sessionID string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return map[string]any{}
	}
	return maps.Clone(e.signals)
}

// Purge removes the session record entirely. Callers that also hold
// per-session stores are expected to delete those via OnLastDetach or
// alongside this call.
func (r *Registry) Purge(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ForEach calls fn for every known session. The snapshot is taken under
// lock; fn runs without it.
func (r *Registry) ForEach(fn func(Session)) {
	r.mu.RLock()
	sessions := make([]Session, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.session)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		fn(s)
	}
}
