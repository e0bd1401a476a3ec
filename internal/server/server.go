// Package server exposes the gateway's HTTP surface: the /v1/inference
// endpoint (spec.md section 6) plus a liveness probe, routed with chi and
// wired to an internal/coordinator.Coordinator.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tzrouter/gateway/internal/coordinator"
)

// Server holds the HTTP router and the coordinator every request is
// dispatched to.
type Server struct {
	router chi.Router
	co     *coordinator.Coordinator
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(co *coordinator.Coordinator) *Server {
	s := &Server{co: co}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/v1/inference", s.handleInference)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
