// Package client is the headless sync engine: local signal state, the
// declarative attribute processor, the SSE transport with reconnect,
// and the action dispatcher, tied together by Engine.
package client

import (
	"maps"
	"reflect"
	"sync"
)

// Getter reads a signal value inside an effect, recording the read as
// a dependency of that effect.
type Getter func(name string) any

// Signals holds the client's local signal values and the effects
// subscribed to them. Effects re-run when a signal they read changes,
// and a Merge re-runs each affected effect exactly once regardless of
// how many of its dependencies the patch touched.
type Signals struct {
	mu      sync.Mutex
	values  map[string]any
	effects map[int]*effect
	nextID  int
}

type effect struct {
	id   int
	fn   func(get Getter)
	deps map[string]bool
}

// NewSignals creates an empty signal store.
func NewSignals() *Signals {
	return &Signals{
		values:  map[string]any{},
		effects: map[int]*effect{},
	}
}

// Get returns the current value of a signal, or nil if unset.
func (s *Signals) Get(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}

// Snapshot returns a copy of every signal, sent along with action
// requests so the server sees the client's current state.
func (s *Signals) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Set writes one signal and re-runs effects that read it. Writing a
// value equal to the current one is a no-op, so applying the same
// patch twice leaves both state and effects untouched the second time.
func (s *Signals) Set(name string, value any) {
	s.Merge(map[string]any{name: value})
}

// Merge applies a patch of several signals at once. Effects depending
// on more than one patched signal recompute a single time.
func (s *Signals) Merge(patch map[string]any) {
	s.mu.Lock()
	changed := map[string]bool{}
	for name, value := range patch {
		if cur, ok := s.values[name]; ok && reflect.DeepEqual(cur, value) {
			continue
		}
		s.values[name] = value
		changed[name] = true
	}
	var affected []*effect
	for _, e := range s.effects {
		for name := range changed {
			if e.deps[name] {
				affected = append(affected, e)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, e := range affected {
		s.run(e)
	}
}

// Effect registers fn and runs it immediately. Signals read through
// the supplied Getter become the effect's dependencies; they are
// re-tracked on every run, so conditional reads stay accurate. The
// returned function disposes the effect.
func (s *Signals) Effect(fn func(get Getter)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	e := &effect{id: id, fn: fn, deps: map[string]bool{}}
	s.effects[id] = e
	s.mu.Unlock()

	s.run(e)

	return func() {
		s.mu.Lock()
		delete(s.effects, id)
		s.mu.Unlock()
	}
}

func (s *Signals) run(e *effect) {
	deps := map[string]bool{}
	get := func(name string) any {
		deps[name] = true
		s.mu.Lock()
		v := s.values[name]
		s.mu.Unlock()
		return v
	}
	e.fn(get)
	s.mu.Lock()
	if _, live := s.effects[e.id]; live {
		e.deps = deps
	}
	s.mu.Unlock()
}
