// Package store holds the authoritative application state: one global
// store shared by every session plus a lazily-created store per
// session, with a change stream the broadcast hub subscribes to and an
// optional debounced snapshot to a persistence backend.
package store

import (
	"sync"
)

// Store is a reactive value container. Mutations are serialized through
// a single point per store so renders observe a strictly ordered
// history; subscribers are notified synchronously before Update
// returns, so a Get ordered after an Update sees the new value.
type Store[S any] struct {
	// updateMu serializes mutations and keeps notification order
	// aligned with mutation order.
	updateMu sync.Mutex

	// valueMu protects reads of value against the swap in Update.
	valueMu sync.RWMutex
	value   S

	subMu   sync.RWMutex
	subs    map[uint64]func(S)
	nextSub uint64
}

// New creates a store holding initial.
func New[S any](initial S) *Store[S] {
	return &Store[S]{
		value: initial,
		subs:  make(map[uint64]func(S)),
	}
}

// Get returns the current value.
func (s *Store[S]) Get() S {
	s.valueMu.RLock()
	defer s.valueMu.RUnlock()
	return s.value
}

// Set replaces the value and notifies subscribers.
func (s *Store[S]) Set(value S) {
	s.Update(func(S) S { return value })
}

// Update applies fn atomically with respect to concurrent updates and
// emits the new value on the change stream. Subscribers run on the
// caller's goroutine; a subscriber must not update the same store.
func (s *Store[S]) Update(fn func(S) S) S {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.valueMu.RLock()
	old := s.value
	s.valueMu.RUnlock()

	next := fn(old)

	s.valueMu.Lock()
	s.value = next
	s.valueMu.Unlock()

	s.notify(next)
	return next
}

// Subscribe registers fn on the change stream and returns a function
// that removes it. Each distinct update produces exactly one call.
func (s *Store[S]) Subscribe(fn func(S)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify runs subscribers with a copy-before-notify snapshot so no lock
// is held while application code runs.
func (s *Store[S]) notify(value S) {
	s.subMu.RLock()
	subs := make([]func(S), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(value)
	}
}
