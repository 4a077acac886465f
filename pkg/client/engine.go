package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/hyperstar-dev/hyperstar/pkg/client/dom"
	"github.com/hyperstar-dev/hyperstar/pkg/client/expr"
	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
)

// EngineConfig configures a headless engine instance.
type EngineConfig struct {
	// ServerURL is the server's base URL, without the endpoint paths.
	ServerURL string

	// BasePath prefixes the event and action endpoints. Defaults to
	// "/hyperstar".
	BasePath string

	// Document is the initial HTML the engine starts from, normally
	// the body served by GET /.
	Document string

	// Client is shared by the transport and the dispatcher so both
	// carry the same session cookie. Defaults to a client with a
	// fresh cookie jar.
	Client *http.Client

	// Reconnect tuning, passed through to the transport.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxAttempts   int

	Logger *slog.Logger
}

// Engine is the headless client: it owns the live document, local
// signals, the attribute processor, the SSE transport and the action
// dispatcher, and applies every server event kind. Side effects a
// browser would perform (navigation, script execution, title changes)
// are recorded instead, so tests and tools can inspect them.
type Engine struct {
	signals    *Signals
	attrs      *Attrs
	transport  *Transport
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu        sync.Mutex
	doc       *dom.Node
	focusedID string
	title     string
	favicon   string
	redirects []protocol.RedirectData
	executed  []string
	tasks     map[string]float64
	completed []string
}

// NewEngine parses the initial document, processes its attributes and
// prepares (but does not open) the transport.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = "/hyperstar"
	}
	if cfg.Client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		cfg.Client = &http.Client{Jar: jar}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "client.engine")
	}

	doc, err := dom.Parse(cfg.Document)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		signals: NewSignals(),
		logger:  cfg.Logger,
		doc:     doc,
		tasks:   map[string]float64{},
	}
	e.attrs = NewAttrs(AttrsConfig{
		Signals:  e.signals,
		Programs: expr.NewCache(),
		Funcs: map[string]func(args []any) any{
			"action": e.actionFunc,
		},
		Logger: cfg.Logger.With("component", "client.attrs"),
	})
	e.dispatcher = NewDispatcher(DispatcherConfig{
		URL:     cfg.ServerURL + cfg.BasePath + "/action",
		Client:  cfg.Client,
		Signals: e.signals,
		Logger:  cfg.Logger.With("component", "client.dispatch"),
	})
	e.transport = NewTransport(TransportConfig{
		URL:         cfg.ServerURL + cfg.BasePath + "/events",
		Client:      cfg.Client,
		OnEvent:     e.Apply,
		BaseDelay:   cfg.ReconnectBase,
		MaxDelay:    cfg.ReconnectMax,
		MaxAttempts: cfg.MaxAttempts,
		JitterFrac:  0.25,
		Logger:      cfg.Logger.With("component", "client.transport"),
	})

	e.attrs.Process(doc)
	return e, nil
}

// Connect opens the event stream.
func (e *Engine) Connect() { e.transport.Connect() }

// Close stops the event stream.
func (e *Engine) Close() { e.transport.Close() }

// Signals exposes the local signal store.
func (e *Engine) Signals() *Signals { return e.signals }

// Attrs exposes the attribute processor, mainly so tests and embedders
// can deliver DOM events.
func (e *Engine) Attrs() *Attrs { return e.attrs }

// Transport exposes the underlying SSE transport.
func (e *Engine) Transport() *Transport { return e.transport }

// Document returns the live document tree.
func (e *Engine) Document() *dom.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

// SetFocus marks the element whose in-progress value morphs must
// preserve. An empty id clears it.
func (e *Engine) SetFocus(id string) {
	e.mu.Lock()
	e.focusedID = id
	e.mu.Unlock()
}

// Dispatch sends an action and applies the immediate response events.
func (e *Engine) Dispatch(ctx context.Context, action string, args map[string]any) error {
	events, err := e.dispatcher.Dispatch(ctx, action, args)
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.Apply(ev)
	}
	return nil
}

// DispatchDOMEvent delivers a synthetic DOM event to the element's
// data-on handler.
func (e *Engine) DispatchDOMEvent(el *dom.Node, ev *Event) {
	e.attrs.DispatchEvent(el, ev)
}

// Apply reacts to one server event. The switch is exhaustive over the
// protocol's event kinds; an unknown kind logs and is dropped.
func (e *Engine) Apply(ev protocol.Event) {
	payload := ev.Data

	switch ev.Kind {
	case protocol.EventMorph:
		d, ok := payload.(protocol.MorphData)
		if !ok {
			e.logger.Error("morph payload has wrong type", "payload", payload)
			return
		}
		e.applyMorph(d)

	case protocol.EventSignals:
		d, ok := payload.(protocol.SignalsData)
		if !ok {
			e.logger.Error("signals payload has wrong type", "payload", payload)
			return
		}
		e.signals.Merge(map[string]any(d))

	case protocol.EventExecute:
		if d, ok := payload.(protocol.ExecuteData); ok {
			e.mu.Lock()
			e.executed = append(e.executed, d.Script)
			e.mu.Unlock()
		}

	case protocol.EventRedirect:
		if d, ok := payload.(protocol.RedirectData); ok {
			e.mu.Lock()
			e.redirects = append(e.redirects, d)
			e.mu.Unlock()
		}

	case protocol.EventError:
		if d, ok := payload.(protocol.ErrorData); ok {
			e.logger.Warn("server reported error", "code", d.Code, "message", d.Message)
		}

	case protocol.EventTitle:
		if d, ok := payload.(protocol.TitleData); ok {
			e.mu.Lock()
			e.title = d.Title
			e.mu.Unlock()
		}

	case protocol.EventFavicon:
		if d, ok := payload.(protocol.FaviconData); ok {
			e.mu.Lock()
			e.favicon = d.URL
			e.mu.Unlock()
		}

	case protocol.EventTaskProgress:
		if d, ok := payload.(protocol.TaskProgressData); ok {
			e.mu.Lock()
			e.tasks[d.Task] = d.Fraction
			e.mu.Unlock()
		}

	case protocol.EventTaskComplete:
		if d, ok := payload.(protocol.TaskCompleteData); ok {
			e.mu.Lock()
			delete(e.tasks, d.Task)
			e.completed = append(e.completed, d.Task)
			e.mu.Unlock()
		}

	default:
		e.logger.Warn("unknown event kind", "kind", ev.Kind)
	}
}

// applyMorph merges new content into the target element. The payload
// carries the target's inner HTML; children are reconciled in place so
// unchanged nodes keep their identity and bindings.
func (e *Engine) applyMorph(d protocol.MorphData) {
	frag, err := dom.Parse(d.HTML)
	if err != nil {
		e.logger.Error("morph fragment parse failed", "target", d.Target, "error", err)
		return
	}

	e.mu.Lock()
	target := e.doc.FindByID(d.Target)
	focused := e.focusedID
	e.mu.Unlock()
	if target == nil {
		e.logger.Warn("morph target not in document", "target", d.Target)
		return
	}

	changes := dom.Morph(target, frag, dom.MorphOptions{FocusedID: focused})
	e.attrs.Apply(changes)
}

// actionFunc backs the action(...) helper available to attribute
// expressions: action(name, key, value, key, value, ...).
func (e *Engine) actionFunc(args []any) any {
	if len(args) == 0 {
		e.logger.Error("action() requires a name")
		return nil
	}
	name, ok := args[0].(string)
	if !ok {
		e.logger.Error("action() name must be a string", "got", args[0])
		return nil
	}
	actionArgs := map[string]any{}
	rest := args[1:]
	for i := 0; i+1 < len(rest); i += 2 {
		key, ok := rest[i].(string)
		if !ok {
			e.logger.Error("action() argument keys must be strings", "got", rest[i])
			return nil
		}
		actionArgs[key] = rest[i+1]
	}
	if err := e.Dispatch(context.Background(), name, actionArgs); err != nil {
		e.logger.Error("action dispatch failed", "action", name, "error", err)
	}
	return nil
}

// Title returns the last title pushed by the server.
func (e *Engine) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// Favicon returns the last favicon URL pushed by the server.
func (e *Engine) Favicon() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.favicon
}

// Redirects returns every redirect the server has requested.
func (e *Engine) Redirects() []protocol.RedirectData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.RedirectData(nil), e.redirects...)
}

// Executed returns every script the server asked the client to run.
func (e *Engine) Executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

// TaskProgress reports the last fraction seen for a running task.
func (e *Engine) TaskProgress(task string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.tasks[task]
	return f, ok
}

// CompletedTasks returns tasks the server has marked finished.
func (e *Engine) CompletedTasks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.completed...)
}
