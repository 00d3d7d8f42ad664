// Package server hosts the gateway HTTP surface: the /proxy/* forwarder plus
// health, version, metrics and pool inspection endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/keygate/keygate/internal/errors"
	"github.com/keygate/keygate/internal/observability"
	"github.com/keygate/keygate/internal/server/handlers"
	servermw "github.com/keygate/keygate/internal/server/middleware"
)

// Timeouts applied to the listener. A zero WriteTimeout leaves writes
// unbounded: a proxied request may wait a full quota window for a credential.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// DefaultTimeouts match the config defaults.
var DefaultTimeouts = Timeouts{
	Read: 30 * time.Second,
	Idle: 120 * time.Second,
}

// Option configures a Server.
type Option func(*Server)

// WithForwarder mounts h on /proxy/* for GET, POST, PUT, DELETE and PATCH.
func WithForwarder(h http.Handler) Option {
	return func(s *Server) { s.forwarder = h }
}

// WithPool exposes pool state on GET /pool.
func WithPool(pool handlers.PoolView) Option {
	return func(s *Server) { s.pool = pool }
}

// WithTimeouts overrides DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// ProxyMethods are the methods routed to the forwarder; others get 405.
var ProxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	host      string
	port      int
	timeouts  Timeouts
	forwarder http.Handler
	pool      handlers.PoolView

	mu sync.Mutex
}

// New creates the router and registers every route.
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)      // correlation first
	r.Use(servermw.RequestMetrics) // then measure everything below
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:   r,
		host:     host,
		port:     port,
		timeouts: DefaultTimeouts,
	}
	for _, opt := range opts {
		opt(s)
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Start binds the listener and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	s.mu.Lock()
	s.server = httpServer
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	port := s.port
	s.mu.Unlock()

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", port),
			zap.String("addr", listener.Addr().String()),
			zap.Bool("proxy_enabled", s.forwarder != nil))
	}

	return httpServer.Serve(listener)
}

// Shutdown gracefully shuts down the HTTP server. Requests blocked waiting
// for a credential are given until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.server
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	err := httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		// Force-close whatever is still waiting.
		_ = httpServer.Close()
	}
	return err
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port, or the bound port once Start has run.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
