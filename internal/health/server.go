package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for health monitoring and graph queries.
type Server struct {
	monitor *Monitor
	graph   GraphService
	server  *http.Server
}

// NewServer creates a new health server. A nil graph serves health and
// metrics only.
func NewServer(monitor *Monitor, graph GraphService, port int) *Server {
	s := &Server{
		monitor: monitor,
		graph:   graph,
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	if s.graph != nil {
		mux.HandleFunc("GET /api/tasks/blocked", s.handleBlocked)
		mux.HandleFunc("GET /api/tasks/available", s.handleAvailable)
		mux.HandleFunc("GET /api/tasks/ranked", s.handleRanked)
		mux.HandleFunc("GET /api/tasks/order", s.handleOrder)
		mux.HandleFunc("GET /api/tasks/dangling", s.handleDangling)
		mux.HandleFunc("GET /api/graph", s.handleGraph)
		mux.HandleFunc("GET /api/tasks/{id}/priority", s.handlePriority)
		mux.HandleFunc("POST /api/tasks/{id}/dependencies", s.handleAddDependency)
		mux.HandleFunc("DELETE /api/tasks/{id}/dependencies/{dep}", s.handleRemoveDependency)
	}
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.SystemStatus)}
	w.Header().Set("Content-Type", "application/json")

	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
