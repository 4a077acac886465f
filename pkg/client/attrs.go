package client

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hyperstar-dev/hyperstar/pkg/client/dom"
	"github.com/hyperstar-dev/hyperstar/pkg/client/expr"
)

// Event is a DOM event delivered to the processor. Value carries the
// element's current value for input-style events.
type Event struct {
	Name      string
	Value     any
	prevented bool
}

// PreventDefault marks the event's default behavior as suppressed.
func (e *Event) PreventDefault() { e.prevented = true }

// Prevented reports whether a handler called PreventDefault.
func (e *Event) Prevented() bool { return e.prevented }

const defaultHandlerDelay = 250 * time.Millisecond

// AttrsConfig configures the attribute processor.
type AttrsConfig struct {
	Signals  *Signals
	Programs *expr.Cache

	// Funcs are the helpers callable from attribute expressions, for
	// example the engine's action(name, args...) dispatcher.
	Funcs map[string]func(args []any) any

	Logger *slog.Logger
}

// Attrs walks element subtrees and wires the declarative vocabulary:
// data-bind, data-show, data-class, data-attr, data-text, data-html,
// data-ref, data-init and data-on-<event> with .debounce, .throttle,
// .prevent and .once modifiers. Each element is processed once; a
// second pass over the same node is a no-op.
type Attrs struct {
	signals  *Signals
	programs *expr.Cache
	funcs    map[string]func(args []any) any
	logger   *slog.Logger

	mu        sync.Mutex
	processed map[*dom.Node]bool
	disposers map[*dom.Node][]func()
	handlers  map[*dom.Node]map[string]*handler
	refs      map[string]*dom.Node
}

type handler struct {
	program  *expr.Program
	prevent  bool
	once     bool
	spent    bool
	debounce time.Duration
	throttle time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	lastFired time.Time
}

// NewAttrs creates an attribute processor.
func NewAttrs(cfg AttrsConfig) *Attrs {
	if cfg.Signals == nil {
		cfg.Signals = NewSignals()
	}
	if cfg.Programs == nil {
		cfg.Programs = expr.NewCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "client.attrs")
	}
	return &Attrs{
		signals:   cfg.Signals,
		programs:  cfg.Programs,
		funcs:     cfg.Funcs,
		logger:    cfg.Logger,
		processed: map[*dom.Node]bool{},
		disposers: map[*dom.Node][]func(){},
		handlers:  map[*dom.Node]map[string]*handler{},
		refs:      map[string]*dom.Node{},
	}
}

// Process wires every unprocessed element in the subtree.
func (a *Attrs) Process(root *dom.Node) {
	root.Elements(func(el *dom.Node) {
		a.mu.Lock()
		if a.processed[el] {
			a.mu.Unlock()
			return
		}
		a.processed[el] = true
		a.mu.Unlock()
		a.processElement(el)
	})
}

// Apply reacts to a morph: new elements get processed, retained
// elements whose attributes or text changed get torn down and
// re-processed so changed directive attributes take effect, removed
// ones get their effects and handlers torn down.
func (a *Attrs) Apply(ch *dom.Changes) {
	for _, n := range ch.Updated {
		a.reset(n)
		a.Process(n)
	}
	for _, n := range ch.Added {
		a.Process(n)
	}
	for _, n := range ch.Removed {
		a.Cleanup(n)
	}
}

// Cleanup disposes every effect and handler registered under the
// subtree rooted at n.
func (a *Attrs) Cleanup(n *dom.Node) {
	n.Elements(a.reset)
}

// reset tears down one element's effects, handlers and refs and clears
// its processed marker so the next Process wires it fresh.
func (a *Attrs) reset(el *dom.Node) {
	a.mu.Lock()
	disposers := a.disposers[el]
	delete(a.disposers, el)
	delete(a.handlers, el)
	delete(a.processed, el)
	for name, ref := range a.refs {
		if ref == el {
			delete(a.refs, name)
		}
	}
	a.mu.Unlock()
	for _, d := range disposers {
		d()
	}
}

// Ref returns the element registered under data-ref="name", or nil.
func (a *Attrs) Ref(name string) *dom.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refs[name]
}

// DispatchEvent delivers a DOM event to the element's data-on handler
// for that event name, honoring its modifiers.
func (a *Attrs) DispatchEvent(el *dom.Node, ev *Event) {
	a.mu.Lock()
	h := a.handlers[el][ev.Name]
	a.mu.Unlock()
	if h == nil {
		return
	}
	h.fire(a, el, ev)
}

func (a *Attrs) processElement(el *dom.Node) {
	for key, raw := range el.Attrs {
		switch {
		case key == "data-bind":
			a.bind(el, raw)
		case key == "data-show":
			a.show(el, raw)
		case key == "data-class":
			a.classes(el, raw)
		case key == "data-attr":
			a.attr(el, raw)
		case key == "data-text":
			a.text(el, raw)
		case key == "data-html":
			a.html(el, raw)
		case key == "data-ref":
			a.mu.Lock()
			a.refs[raw] = el
			a.mu.Unlock()
		case key == "data-init":
			a.eval(el, raw, nil)
		case strings.HasPrefix(key, "data-on-"):
			a.on(el, strings.TrimPrefix(key, "data-on-"), raw)
		}
	}
}

// bind ties an input's value to a signal in both directions.
func (a *Attrs) bind(el *dom.Node, signal string) {
	a.effect(el, func(get Getter) {
		el.SetAttr("value", expr.ToString(get(signal)))
	})
	a.registerHandler(el, "input", &handler{program: bindProgram(a, signal)})
}

// bindProgram is the write half of data-bind: event value into signal.
func bindProgram(a *Attrs, signal string) *expr.Program {
	// Compiled once per signal name; the source is synthetic but goes
	// through the same cache as authored expressions.
	p, err := a.programs.Compile("__bind('" + signal + "', event.value)")
	if err != nil {
		a.logger.Error("bind compile failed", "signal", signal, "error", err)
		return nil
	}
	return p
}

func (a *Attrs) show(el *dom.Node, src string) {
	a.effect(el, func(get Getter) {
		v := a.evalWith(el, src, nil, get)
		if expr.Truthy(v) {
			el.RemoveAttr("hidden")
		} else {
			el.SetAttr("hidden", "")
		}
	})
}

// classes handles "name: expr; name2: expr2" pairs, toggling each
// class on the element's class attribute.
func (a *Attrs) classes(el *dom.Node, spec string) {
	pairs := parsePairs(spec)
	a.effect(el, func(get Getter) {
		for _, p := range pairs {
			on := expr.Truthy(a.evalWith(el, p.expr, nil, get))
			toggleClass(el, p.name, on)
		}
	})
}

// attr handles "name: expr; ..." pairs; nil or false removes the
// attribute, anything else is stringified and set.
func (a *Attrs) attr(el *dom.Node, spec string) {
	pairs := parsePairs(spec)
	a.effect(el, func(get Getter) {
		for _, p := range pairs {
			v := a.evalWith(el, p.expr, nil, get)
			if v == nil || v == false {
				el.RemoveAttr(p.name)
			} else {
				el.SetAttr(p.name, expr.ToString(v))
			}
		}
	})
}

func (a *Attrs) text(el *dom.Node, src string) {
	a.effect(el, func(get Getter) {
		el.SetTextContent(expr.ToString(a.evalWith(el, src, nil, get)))
	})
}

func (a *Attrs) html(el *dom.Node, src string) {
	a.effect(el, func(get Getter) {
		frag, err := dom.Parse(expr.ToString(a.evalWith(el, src, nil, get)))
		if err != nil {
			a.logger.Error("data-html parse failed", "error", err)
			return
		}
		for _, old := range el.Children {
			a.Cleanup(old)
		}
		el.Children = nil
		for _, c := range frag.Children {
			el.Append(c)
		}
		a.Process(el)
	})
}

// on parses "click.debounce-300ms.prevent" style keys and registers
// the handler.
func (a *Attrs) on(el *dom.Node, key, src string) {
	parts := strings.Split(key, ".")
	event := parts[0]
	h := &handler{}
	for _, mod := range parts[1:] {
		switch {
		case mod == "prevent":
			h.prevent = true
		case mod == "once":
			h.once = true
		case mod == "debounce" || strings.HasPrefix(mod, "debounce-"):
			h.debounce = modDuration(mod, "debounce-")
		case mod == "throttle" || strings.HasPrefix(mod, "throttle-"):
			h.throttle = modDuration(mod, "throttle-")
		default:
			a.logger.Warn("unknown event modifier", "modifier", mod, "event", event)
		}
	}
	p, err := a.programs.Compile(src)
	if err != nil {
		a.logger.Error("handler compile failed", "event", event, "expr", src, "error", err)
		return
	}
	h.program = p
	a.registerHandler(el, event, h)
}

func (a *Attrs) registerHandler(el *dom.Node, event string, h *handler) {
	if h == nil || h.program == nil {
		return
	}
	a.mu.Lock()
	if a.handlers[el] == nil {
		a.handlers[el] = map[string]*handler{}
	}
	a.handlers[el][event] = h
	a.mu.Unlock()
}

func modDuration(mod, prefix string) time.Duration {
	rest := strings.TrimPrefix(mod, prefix)
	if rest == mod || rest == "" {
		return defaultHandlerDelay
	}
	d, err := time.ParseDuration(rest)
	if err != nil || d <= 0 {
		return defaultHandlerDelay
	}
	return d
}

func (h *handler) fire(a *Attrs, el *dom.Node, ev *Event) {
	h.mu.Lock()
	if h.once && h.spent {
		h.mu.Unlock()
		return
	}
	if h.throttle > 0 {
		now := time.Now()
		if !h.lastFired.IsZero() && now.Sub(h.lastFired) < h.throttle {
			h.mu.Unlock()
			return
		}
		h.lastFired = now
	}
	if h.prevent {
		ev.PreventDefault()
	}
	if h.once {
		h.spent = true
	}
	if h.debounce > 0 {
		if h.timer != nil {
			h.timer.Stop()
		}
		h.timer = time.AfterFunc(h.debounce, func() {
			a.runHandler(h, el, ev)
		})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	a.runHandler(h, el, ev)
}

func (a *Attrs) runHandler(h *handler, el *dom.Node, ev *Event) {
	a.eval(el, h.program.Source(), ev)
}

// effect registers a signal-tracked effect scoped to el, remembered
// for cleanup when the element is removed.
func (a *Attrs) effect(el *dom.Node, fn func(get Getter)) {
	dispose := a.signals.Effect(fn)
	a.mu.Lock()
	a.disposers[el] = append(a.disposers[el], dispose)
	a.mu.Unlock()
}

// eval compiles and runs src with el and ev in scope. Failures log
// and yield nil; a broken expression never takes the engine down.
func (a *Attrs) eval(el *dom.Node, src string, ev *Event) any {
	return a.evalWith(el, src, ev, a.signals.Get)
}

func (a *Attrs) evalWith(el *dom.Node, src string, ev *Event, get Getter) any {
	p, err := a.programs.Compile(src)
	if err != nil {
		a.logger.Error("expression compile failed", "expr", src, "error", err)
		return nil
	}
	vars := map[string]any{"el": el}
	if ev != nil {
		vars["event"] = map[string]any{"name": ev.Name, "value": ev.Value}
	}
	funcs := map[string]func(args []any) any{
		"__bind": func(args []any) any {
			if len(args) == 2 {
				if name, ok := args[0].(string); ok {
					a.signals.Set(name, args[1])
				}
			}
			return nil
		},
	}
	for name, fn := range a.funcs {
		funcs[name] = fn
	}
	v, err := p.Eval(&expr.Scope{Signal: func(name string) any { return get(name) }, Vars: vars, Funcs: funcs})
	if err != nil {
		a.logger.Error("expression eval failed", "expr", src, "error", err)
		return nil
	}
	return v
}

type pair struct{ name, expr string }

func parsePairs(spec string) []pair {
	var out []pair
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rest, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		out = append(out, pair{name: strings.TrimSpace(name), expr: strings.TrimSpace(rest)})
	}
	return out
}

func toggleClass(el *dom.Node, class string, on bool) {
	cur, _ := el.Attr("class")
	fields := strings.Fields(cur)
	has := false
	for _, f := range fields {
		if f == class {
			has = true
			break
		}
	}
	switch {
	case on && !has:
		fields = append(fields, class)
	case !on && has:
		kept := fields[:0]
		for _, f := range fields {
			if f != class {
				kept = append(kept, f)
			}
		}
		fields = kept
	default:
		return
	}
	if len(fields) == 0 {
		el.RemoveAttr("class")
		return
	}
	el.SetAttr("class", strings.Join(fields, " "))
}
