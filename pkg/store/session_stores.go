package store

import (
	"sync"
)

// SessionStores holds one Store per session identity, created lazily on
// first access with a default value. Session state is never persisted;
// it lives until the registry purges the session.
type SessionStores[U any] struct {
	mu       sync.RWMutex
	stores   map[string]*Store[U]
	factory  func() U
	onCreate func(sessionID string, st *Store[U])
}

// NewSessionStores creates the per-session store map. factory produces
// the default value for a session seen for the first time.
func NewSessionStores[U any](factory func() U) *SessionStores[U] {
	return &SessionStores[U]{
		stores:  make(map[string]*Store[U]),
		factory: factory,
	}
}

// GetOrCreate returns the store for sessionID, creating it with the
// default value if absent. Unknown sessions synthesize a default rather
// than error: sessions are created lazily by client contact.
func (m *SessionStores[U]) GetOrCreate(sessionID string) *Store[U] {
	m.mu.RLock()
	st, ok := m.stores[sessionID]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stores[sessionID]; ok {
		return st
	}
	st = New(m.factory())
	m.stores[sessionID] = st
	// Run the hook before releasing the lock so no update can slip in
	// ahead of whatever the hook subscribes.
	if m.onCreate != nil {
		m.onCreate(sessionID, st)
	}
	return st
}

// OnCreate registers a hook invoked whenever a session store is
// created, before any other caller can reach it. Used to wire each new
// store's change stream the same way the shared store's is wired.
func (m *SessionStores[U]) OnCreate(fn func(sessionID string, st *Store[U])) {
	m.mu.Lock()
	m.onCreate = fn
	m.mu.Unlock()
}

// Update applies fn to sessionID's store, creating it if absent.
func (m *SessionStores[U]) Update(sessionID string, fn func(U) U) U {
	return m.GetOrCreate(sessionID).Update(fn)
}

// Get returns sessionID's current value, creating the store if absent.
func (m *SessionStores[U]) Get(sessionID string) U {
	return m.GetOrCreate(sessionID).Get()
}

// Delete drops sessionID's store.
func (m *SessionStores[U]) Delete(sessionID string) {
	m.mu.Lock()
	delete(m.stores, sessionID)
	m.mu.Unlock()
}

// ForEach calls fn for every known session store. The snapshot is taken
// under lock; fn runs without it.
func (m *SessionStores[U]) ForEach(fn func(sessionID string, st *Store[U])) {
	m.mu.RLock()
	snapshot := make(map[string]*Store[U], len(m.stores))
	for id, st := range m.stores {
		snapshot[id] = st
	}
	m.mu.RUnlock()

	for id, st := range snapshot {
		fn(id, st)
	}
}

// Len returns the number of live session stores.
func (m *SessionStores[U]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stores)
}
