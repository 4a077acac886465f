package action

import (
	"context"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
)

// Context is the capability surface an action handler runs against. It
// scopes every side effect to the caller's session and the process
// store; a handler touches nothing else.
type Context[S, U any] struct {
	ctx      context.Context
	pipeline *Pipeline[S, U]
	session  session.Session
	args     map[string]any

	// response collects events returned on the dispatch reply.
	response []protocol.Event
}

// Context returns the request context. Long-running handlers should
// honor its cancellation.
func (c *Context[S, U]) Context() context.Context { return c.ctx }

// Session is the caller's session identity.
func (c *Context[S, U]) Session() session.Session { return c.session }

// Args returns the decoded, merged action arguments.
func (c *Context[S, U]) Args() map[string]any { return c.args }

// String returns the named string arg, or "" if absent.
func (c *Context[S, U]) String(name string) string {
	s, _ := c.args[name].(string)
	return s
}

// Int returns the named int arg, or 0 if absent.
func (c *Context[S, U]) Int(name string) int {
	n, _ := c.args[name].(int)
	return n
}

// Bool returns the named bool arg, or false if absent.
func (c *Context[S, U]) Bool(name string) bool {
	b, _ := c.args[name].(bool)
	return b
}

// State returns the current global state.
func (c *Context[S, U]) State() S {
	return c.pipeline.store.Get()
}

// UpdateState mutates the global state. The store's change stream
// drives a broadcast render, so every intermediate update inside a
// long-running handler is pushed individually.
func (c *Context[S, U]) UpdateState(fn func(S) S) S {
	return c.pipeline.store.Update(fn)
}

// SessionState returns the caller's session state, synthesizing the
// default on first access.
func (c *Context[S, U]) SessionState() U {
	return c.pipeline.sessionStores.Get(c.session.ID)
}

// UpdateSessionState mutates the caller's session state. Like
// UpdateState, the store's change stream drives the render push, so
// every mutation path reaches the session's connections, not just this
// one.
func (c *Context[S, U]) UpdateSessionState(fn func(U) U) U {
	return c.pipeline.sessionStores.Update(c.session.ID, fn)
}

// PatchSignals pushes new signal values without a full render. The
// patch goes on the dispatch reply and to the session's other live
// connections; duplicates are harmless because signal patches are
// idempotent on the client.
func (c *Context[S, U]) PatchSignals(patch map[string]any) {
	c.pipeline.sessions.MergeSignals(c.session.ID, patch)
	c.reply(protocol.Signals(patch))
	if c.pipeline.hub != nil {
		c.pipeline.hub.SendToSession(c.session.ID, protocol.Signals(patch))
	}
}

// SetTitle updates the document title for the caller's session.
func (c *Context[S, U]) SetTitle(title string) {
	c.reply(protocol.Title(title))
	if c.pipeline.hub != nil {
		c.pipeline.hub.SendToSession(c.session.ID, protocol.Title(title))
	}
}

// SetFavicon updates the favicon for the caller's session.
func (c *Context[S, U]) SetFavicon(url string) {
	c.reply(protocol.Favicon(url))
	if c.pipeline.hub != nil {
		c.pipeline.hub.SendToSession(c.session.ID, protocol.Favicon(url))
	}
}

// Execute runs a script once on the caller's client.
func (c *Context[S, U]) Execute(script string) {
	c.reply(protocol.Execute(script))
}

// Redirect navigates the caller's client.
func (c *Context[S, U]) Redirect(url string, replace bool) {
	c.reply(protocol.Redirect(url, replace))
}

// ProgressTask reports fractional progress of a named task to the
// caller's session.
func (c *Context[S, U]) ProgressTask(task string, fraction float64) {
	if c.pipeline.hub != nil {
		c.pipeline.hub.SendToSession(c.session.ID, protocol.TaskProgress(task, fraction))
	}
}

// CompleteTask marks a named task finished for the caller's session.
func (c *Context[S, U]) CompleteTask(task string) {
	if c.pipeline.hub != nil {
		c.pipeline.hub.SendToSession(c.session.ID, protocol.TaskComplete(task))
	}
}

func (c *Context[S, U]) reply(ev protocol.Event) {
	c.response = append(c.response, ev)
}
