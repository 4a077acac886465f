// Package server is the HTTP surface: the page handler, the SSE event
// stream, the action endpoint, the websocket alternative and the
// metrics endpoint, wired over chi.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperstar-dev/hyperstar/pkg/hub"
	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
)

// Dispatcher runs one action request. Satisfied by the action pipeline
// and by the middleware wrappers around it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error)
}

// PageRenderer produces the full HTML document for GET /. The engine
// boots from whatever this returns; it normally embeds the root
// element and the client bootstrap.
type PageRenderer func(r *http.Request, sessionID string) (string, error)

// Config configures the Server.
type Config struct {
	// Address is the listen address. Default ":8080".
	Address string

	// BasePath prefixes the protocol endpoints. Default "/hyperstar".
	BasePath string

	// CookieName is the session cookie. Default session.DefaultCookieName.
	CookieName string

	// SendBuffer is the per-SSE-connection outbound queue. A client
	// that falls this far behind is dropped. Default 64.
	SendBuffer int

	// DisableMetrics turns off the promhttp handler; /metrics is
	// served by default.
	DisableMetrics bool

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		BasePath:          "/hyperstar",
		CookieName:        session.DefaultCookieName,
		SendBuffer:        64,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		Logger:            slog.Default().With("component", "server"),
	}
}

// Server serves one hyperstar application.
type Server struct {
	config     *Config
	hub        *hub.Hub
	sessions   *session.Registry
	dispatcher Dispatcher
	page       PageRenderer
	logger     *slog.Logger

	router     chi.Router
	httpServer *http.Server

	// onShutdown hooks run after the listener stops accepting and the
	// hub is closed, before Run returns. The app layer uses them to
	// stop the scheduler and flush snapshots.
	onShutdown []func(context.Context)
}

// New assembles a server. The hub, session registry and dispatcher are
// required; page may be nil when the application serves its own
// document.
func New(config *Config, h *hub.Hub, sessions *session.Registry, dispatcher Dispatcher, page PageRenderer) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Address == "" {
		config.Address = defaults.Address
	}
	if config.BasePath == "" {
		config.BasePath = defaults.BasePath
	}
	if config.CookieName == "" {
		config.CookieName = defaults.CookieName
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.ReadHeaderTimeout == 0 {
		config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	s := &Server{
		config:     config,
		hub:        h,
		sessions:   sessions,
		dispatcher: dispatcher,
		page:       page,
		logger:     config.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if s.page != nil {
		r.Get("/", s.handlePage)
	}
	r.Route(s.config.BasePath, func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Post("/action", s.handleAction)
		r.Get("/ws", s.handleWebsocket)
	})
	if !s.config.DisableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OnShutdown registers a hook run during graceful shutdown.
func (s *Server) OnShutdown(fn func(context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run starts the server and blocks until SIGINT/SIGTERM or a listener
// error.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes push connections, runs the shutdown hooks and stops
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.hub.Close()
	for _, fn := range s.onShutdown {
		fn(ctx)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	sessionID := session.EnsureCookie(w, r, s.config.CookieName)
	s.sessions.GetOrCreate(sessionID)

	html, err := s.page(r, sessionID)
	if err != nil {
		s.logger.Error("page render failed", "session", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
