// Package action validates inbound mutation requests, runs the
// registered handler against the store and session, and produces the
// protocol events that flow back on the dispatch response and out
// through the broadcast hub.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/hyperstar-dev/hyperstar/pkg/hub"
	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
	"github.com/hyperstar-dev/hyperstar/pkg/store"
)

// HandlerFunc is an action handler. Side effects happen through ctx,
// not the return value; a returned error is logged and reported to the
// caller as a generic execution failure.
//
// Handlers may be long-running: each intermediate UpdateState triggers
// its own broadcast, which is how incremental UI streaming works.
type HandlerFunc[S, U any] func(ctx *Context[S, U]) error

// Observer receives pipeline activity for metrics.
type Observer interface {
	ActionDispatched(id, status string)
}

type registration[S, U any] struct {
	shape   Shape
	handler HandlerFunc[S, U]
}

// Pipeline owns the action registry and the dispatch path. S is the
// global state type, U the per-session state type.
type Pipeline[S, U any] struct {
	mu      sync.RWMutex
	actions map[string]*registration[S, U]

	store         *store.Store[S]
	sessionStores *store.SessionStores[U]
	sessions      *session.Registry
	hub           *hub.Hub

	observer Observer
	logger   *slog.Logger
}

// NewPipeline wires a pipeline to its collaborators.
func NewPipeline[S, U any](
	st *store.Store[S],
	sessionStores *store.SessionStores[U],
	sessions *session.Registry,
	h *hub.Hub,
	logger *slog.Logger,
) *Pipeline[S, U] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline[S, U]{
		actions:       make(map[string]*registration[S, U]),
		store:         st,
		sessionStores: sessionStores,
		sessions:      sessions,
		hub:           h,
		logger:        logger.With("component", "action"),
	}
}

// SetObserver installs a metrics observer.
func (p *Pipeline[S, U]) SetObserver(o Observer) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// Register adds an action. Duplicate ids fail fast at registration
// time.
func (p *Pipeline[S, U]) Register(id string, shape Shape, handler HandlerFunc[S, U]) error {
	if id == "" {
		return fmt.Errorf("action: empty action id")
	}
	if handler == nil {
		return fmt.Errorf("action: nil handler for %q", id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.actions[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, id)
	}
	p.actions[id] = &registration[S, U]{shape: shape, handler: handler}
	return nil
}

// MustRegister is Register that panics on error, for wiring at startup.
func (p *Pipeline[S, U]) MustRegister(id string, shape Shape, handler HandlerFunc[S, U]) {
	if err := p.Register(id, shape, handler); err != nil {
		panic(err)
	}
}

// Dispatch runs one action request and returns the direct-response
// events. Order of steps: lookup, signal merge, decode, execute.
func (p *Pipeline[S, U]) Dispatch(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
	p.mu.RLock()
	reg, ok := p.actions[req.Action]
	observer := p.observer
	p.mu.RUnlock()

	if !ok {
		if observer != nil {
			observer.ActionDispatched(req.Action, "not_found")
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	sess := p.sessions.GetOrCreate(req.SessionID)

	// Remember the client's signal snapshot, then merge it underneath
	// the explicit args: bound form fields double as implicit action
	// arguments, and an explicit arg wins on conflict. Stale snapshots
	// from a slow client are applied, never rejected.
	p.sessions.MergeSignals(sess.ID, req.Signals)

	merged := make(map[string]any, len(req.Signals)+len(req.Args))
	maps.Copy(merged, req.Signals)
	maps.Copy(merged, req.Args)

	args, err := reg.shape.Decode(merged)
	if err != nil {
		if observer != nil {
			observer.ActionDispatched(req.Action, "invalid")
		}
		return nil, err
	}

	actx := &Context[S, U]{
		ctx:      ctx,
		pipeline: p,
		session:  sess,
		args:     args,
	}

	if err := p.run(req.Action, reg.handler, actx); err != nil {
		if observer != nil {
			observer.ActionDispatched(req.Action, "error")
		}
		return nil, err
	}

	if observer != nil {
		observer.ActionDispatched(req.Action, "ok")
	}
	return actx.response, nil
}

// run executes the handler with panic isolation: a throwing handler is
// terminal for that request only and must never crash the pipeline or
// leak to other sessions.
func (p *Pipeline[S, U]) run(id string, handler HandlerFunc[S, U], actx *Context[S, U]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("action handler panicked",
				"action", id, "session_id", actx.session.ID, "panic", r)
			err = ErrActionFailed
		}
	}()

	if herr := handler(actx); herr != nil {
		p.logger.Error("action handler failed",
			"action", id, "session_id", actx.session.ID, "error", herr)
		return ErrActionFailed
	}
	return nil
}
