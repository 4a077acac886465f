// Package hyperstar is a server-authoritative live-UI synchronization
// framework: application state lives in a reactive store on the
// server, clients connect over server-sent events, and every state
// change is rendered and pushed to every connected client. Clients
// send typed actions back; a scheduler runs background jobs that
// hibernate while nobody is connected.
//
// A minimal application:
//
//	type State struct{ Count int }
//
//	app := hyperstar.New(State{}, func() struct{} { return struct{}{} }, hyperstar.Config{})
//	app.SetView(func(sessionID string, s State, _ struct{}) (string, error) {
//	    return fmt.Sprintf(`<p id="count">%d</p>`, s.Count), nil
//	})
//	app.MustAction("increment", action.NewShape(), func(ctx *action.Context[State, struct{}]) error {
//	    ctx.UpdateState(func(s State) State { s.Count++; return s })
//	    return nil
//	})
//	app.Run()
package hyperstar

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperstar-dev/hyperstar/pkg/action"
	"github.com/hyperstar-dev/hyperstar/pkg/hub"
	"github.com/hyperstar-dev/hyperstar/pkg/middleware"
	"github.com/hyperstar-dev/hyperstar/pkg/schedule"
	"github.com/hyperstar-dev/hyperstar/pkg/server"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
	"github.com/hyperstar-dev/hyperstar/pkg/store"
)

// Config configures an App.
type Config struct {
	// Address is the listen address. Default ":8080".
	Address string

	// BasePath prefixes the protocol endpoints. Default "/hyperstar".
	BasePath string

	// CookieName is the session cookie. Default "hs_session".
	CookieName string

	// RootID is the element morph events target. Default "app".
	RootID string

	// KeepAlive is the SSE heartbeat cadence. Default 30s.
	KeepAlive time.Duration

	// DisableMetrics turns off promhttp on /metrics. Metrics are
	// served by default.
	DisableMetrics bool

	// Snapshot persists the shared store across restarts. Nil disables
	// persistence.
	Snapshot store.Snapshotter

	// SnapshotDebounce batches snapshot writes. Default 1s.
	SnapshotDebounce time.Duration

	// Tracing wraps dispatch in OpenTelemetry spans. Default off; the
	// tracer provider is the application's to configure.
	Tracing bool

	Logger *slog.Logger
}

// App owns one application's full server: the reactive store, session
// registry, action pipeline, broadcast hub, scheduler and HTTP
// surface, wired so that a store change reaches every connection and
// presence transitions drive job hibernation.
type App[S, U any] struct {
	config Config
	logger *slog.Logger

	store         *store.Store[S]
	sessionStores *store.SessionStores[U]
	sessions      *session.Registry
	hub           *hub.Hub
	pipeline      *action.Pipeline[S, U]
	scheduler     *schedule.Scheduler
	metrics       *middleware.Metrics
	saver         *store.Saver[S]
	server        *server.Server

	page server.PageRenderer
}

// sessionIDs adapts the registry to the scheduler's lister.
type sessionIDs struct{ r *session.Registry }

func (l sessionIDs) ForEachSessionID(fn func(sessionID string)) {
	l.r.ForEach(func(s session.Session) { fn(s.ID) })
}

// New assembles an application around an initial shared state and a
// per-session state factory.
func New[S, U any](initial S, sessionFactory func() U, cfg Config) *App[S, U] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SnapshotDebounce == 0 {
		cfg.SnapshotDebounce = time.Second
	}

	a := &App[S, U]{
		config: cfg,
		logger: cfg.Logger,
	}

	a.store = store.New(initial)
	a.sessionStores = store.NewSessionStores(sessionFactory)
	a.sessions = session.NewRegistry(cfg.Logger)
	a.hub = hub.New(&hub.Config{
		RootID:            cfg.RootID,
		KeepAliveInterval: cfg.KeepAlive,
		Logger:            cfg.Logger,
	})
	a.pipeline = action.NewPipeline(a.store, a.sessionStores, a.sessions, a.hub, cfg.Logger)
	a.scheduler = schedule.New(sessionIDs{a.sessions}, cfg.Logger)

	// Restore before anything can observe the store, then keep it
	// persisted.
	if cfg.Snapshot != nil {
		if err := store.Restore(context.Background(), a.store, cfg.Snapshot); err != nil {
			a.logger.Error("snapshot restore failed, starting fresh", "error", err)
		}
		a.saver = store.NewSaver(a.store, cfg.Snapshot, cfg.SnapshotDebounce, cfg.Logger)
	}

	// The reactive loop: every distinct store change is one render
	// push to every session.
	a.store.Subscribe(func(S) { a.hub.BroadcastRender() })

	// Session stores are reactive the same way: any update, whether
	// from an action handler, a scheduler job or direct API use,
	// renders that session's connections.
	a.sessionStores.OnCreate(func(sessionID string, st *store.Store[U]) {
		st.Subscribe(func(U) { a.hub.RenderSession(sessionID) })
	})

	// Presence drives hibernation.
	a.hub.OnPresence(a.scheduler.SetActive)

	a.metrics = middleware.NewMetrics()
	a.hub.SetObserver(a.metrics)
	a.pipeline.SetObserver(a.metrics)

	var dispatcher server.Dispatcher = a.metrics.WrapDispatcher(a.pipeline)
	if cfg.Tracing {
		dispatcher = middleware.Tracing(dispatcher)
	}

	a.server = server.New(&server.Config{
		Address:        cfg.Address,
		BasePath:       cfg.BasePath,
		CookieName:     cfg.CookieName,
		DisableMetrics: cfg.DisableMetrics,
		Logger:         cfg.Logger,
	}, a.hub, a.sessions, dispatcher, a.servePage)
	a.server.OnShutdown(func(ctx context.Context) {
		a.scheduler.Close()
		if a.saver != nil {
			a.saver.Close()
		}
	})

	return a
}

// SetView installs the render function behind every morph push. It is
// called once per session per state change with that session's state
// alongside the shared state.
func (a *App[S, U]) SetView(fn func(sessionID string, state S, sessionState U) (string, error)) {
	a.hub.SetRenderer(func(sessionID string) (string, error) {
		return fn(sessionID, a.store.Get(), a.sessionStores.Get(sessionID))
	})
}

// SetPage installs the GET / document handler.
func (a *App[S, U]) SetPage(fn server.PageRenderer) {
	a.page = fn
}

func (a *App[S, U]) servePage(r *http.Request, sessionID string) (string, error) {
	if a.page == nil {
		return "<!doctype html><html><body><div id=\"app\"></div></body></html>", nil
	}
	return a.page(r, sessionID)
}

// Action registers an action handler. Duplicate ids fail fast.
func (a *App[S, U]) Action(id string, shape action.Shape, handler action.HandlerFunc[S, U]) error {
	return a.pipeline.Register(id, shape, handler)
}

// MustAction is Action that panics on error, for wiring at startup.
func (a *App[S, U]) MustAction(id string, shape action.Shape, handler action.HandlerFunc[S, U]) {
	a.pipeline.MustRegister(id, shape, handler)
}

// Repeat registers a fixed-cadence background job.
func (a *App[S, U]) Repeat(id string, cfg schedule.RepeatConfig) (*schedule.Job, error) {
	return a.scheduler.Repeat(id, cfg)
}

// Cron registers a cron-scheduled background job.
func (a *App[S, U]) Cron(id string, cfg schedule.CronConfig) (*schedule.Job, error) {
	return a.scheduler.Cron(id, cfg)
}

// Store returns the shared state store.
func (a *App[S, U]) Store() *store.Store[S] { return a.store }

// SessionStores returns the per-session state stores.
func (a *App[S, U]) SessionStores() *store.SessionStores[U] { return a.sessionStores }

// Sessions returns the session registry.
func (a *App[S, U]) Sessions() *session.Registry { return a.sessions }

// Hub returns the broadcast hub.
func (a *App[S, U]) Hub() *hub.Hub { return a.hub }

// Scheduler returns the background job scheduler.
func (a *App[S, U]) Scheduler() *schedule.Scheduler { return a.scheduler }

// Server returns the HTTP surface.
func (a *App[S, U]) Server() *server.Server { return a.server }

// ServeHTTP implements http.Handler, for embedding the app in another
// mux or in tests.
func (a *App[S, U]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.server.ServeHTTP(w, r)
}

// Run starts the server and blocks until shutdown.
func (a *App[S, U]) Run() error {
	return a.server.Run()
}

// Shutdown stops the server, scheduler and snapshot saver.
func (a *App[S, U]) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
