package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomlabs/loom/internal/architect"
	"github.com/loomlabs/loom/internal/config"
	"github.com/loomlabs/loom/internal/decisiongraph"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/session"
	"github.com/loomlabs/loom/internal/telemetry"
)

// HTTPConfig holds the transport-level knobs, distinct from the core's
// config.Config.
type HTTPConfig struct {
	Port         int
	Directory    string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultHTTPConfig mirrors the teacher's server.DefaultConfig, except
// WriteTimeout stays 0 (unbounded) to not cut off SSE connections.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
	}
}

// Deps bundles the core components the HTTP API fronts. None of them are
// owned by Server: it only calls through them.
type Deps struct {
	Store       persistence.Store
	Bus         *event.Bus
	Manager     *session.Manager
	Architect   *architect.Pipeline
	Graph       *decisiongraph.Graph
	Permissions *permission.Manager
	Aggregator  *telemetry.Aggregator
	AppConfig   *config.Config
}

// Server is the chi-based HTTP front-end described in SPEC_FULL.md's
// domain-stack table: a thin transport over the core, never a holder of
// core state itself.
type Server struct {
	cfg     *HTTPConfig
	router  *chi.Mux
	httpSrv *http.Server
	deps    Deps
}

// New builds a Server with routes and middleware wired, grounded on the
// teacher's server.New (chi.NewRouter + setupMiddleware + setupRoutes).
func New(cfg *HTTPConfig, deps Deps) *Server {
	s := &Server{cfg: cfg, router: chi.NewRouter(), deps: deps}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)
			r.Get("/event", s.sessionEvents)
			r.Post("/stop", s.stopSession)
		})
	})

	r.Route("/decision", func(r chi.Router) {
		r.Get("/node", s.listDecisionNodes)
		r.Post("/node", s.createDecisionNode)
		r.Get("/node/{nodeID}", s.getDecisionNode)
		r.Post("/edge", s.createDecisionEdge)
		r.Get("/edge", s.listDecisionEdges)
		r.Get("/timeline", s.decisionTimeline)
	})

	r.Get("/config", s.getConfig)
	r.Get("/telemetry/session/{sessionID}", s.getSessionTelemetry)
	r.Get("/telemetry/global", s.getGlobalTelemetry)
	r.Get("/telemetry/event", s.telemetryEvents)

	r.Handle("/metrics", promhttp.Handler())
}

// Start serves the API; blocks until Shutdown or a fatal listener error.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }
