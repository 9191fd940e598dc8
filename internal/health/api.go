package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/graph"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
)

// GraphService is the dependency graph surface served over HTTP.
type GraphService interface {
	BlockedTasks(ctx context.Context) ([]graph.BlockedTask, error)
	AvailableTasks(ctx context.Context) ([]domain.Task, error)
	RankedTasks(ctx context.Context) ([]graph.PriorityScore, error)
	TopologicalOrder(ctx context.Context) ([]string, error)
	DanglingReferences(ctx context.Context) ([]graph.DanglingRef, error)
	Graph(ctx context.Context) (graph.View, error)
	DynamicPriority(ctx context.Context, taskID string) (graph.PriorityScore, error)
	AddDependency(ctx context.Context, taskID, dependencyID string) (domain.Task, error)
	RemoveDependency(ctx context.Context, taskID, dependencyID string) (domain.Task, error)
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Kind      resilience.Kind     `json:"kind"`
	Message   string              `json:"message"`
	Field     string              `json:"field,omitempty"`
	Severity  resilience.Severity `json:"severity"`
	Retryable bool                `json:"retryable"`
}

type dependencyRequest struct {
	DependencyID string `json:"dependency_id"`
}

func (s *Server) handleBlocked(w http.ResponseWriter, r *http.Request) {
	blocked, err := s.graph.BlockedTasks(r.Context())
	respond(w, blocked, err)
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	available, err := s.graph.AvailableTasks(r.Context())
	respond(w, available, err)
}

func (s *Server) handleRanked(w http.ResponseWriter, r *http.Request) {
	ranked, err := s.graph.RankedTasks(r.Context())
	respond(w, ranked, err)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.graph.TopologicalOrder(r.Context())
	respond(w, order, err)
}

func (s *Server) handleDangling(w http.ResponseWriter, r *http.Request) {
	refs, err := s.graph.DanglingReferences(r.Context())
	respond(w, refs, err)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	view, err := s.graph.Graph(r.Context())
	respond(w, view, err)
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	score, err := s.graph.DynamicPriority(r.Context(), r.PathValue("id"))
	respond(w, score, err)
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, resilience.NewValidationError("", "request body must be JSON"))
		return
	}
	if req.DependencyID == "" {
		writeError(w, resilience.NewValidationError("dependency_id", "dependency_id is required"))
		return
	}
	task, err := s.graph.AddDependency(r.Context(), r.PathValue("id"), req.DependencyID)
	respond(w, task, err)
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	task, err := s.graph.RemoveDependency(r.Context(), r.PathValue("id"), r.PathValue("dep"))
	respond(w, task, err)
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	ce, ok := resilience.AsClassified(err)
	if !ok {
		ce = resilience.Classify(err, "http")
	}
	msg := ce.UserMessage
	if ce.Kind == resilience.KindValidation || msg == "" {
		msg = ce.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(ce))
	json.NewEncoder(w).Encode(ErrorResponse{
		Kind:      ce.Kind,
		Message:   msg,
		Field:     ce.Field,
		Severity:  ce.Severity,
		Retryable: ce.Retryable,
	})
}

func statusFor(ce *resilience.ClassifiedError) int {
	if errors.Is(ce, resilience.ErrCircuitOpen) {
		return http.StatusServiceUnavailable
	}
	switch ce.Kind {
	case resilience.KindValidation:
		return http.StatusBadRequest
	case resilience.KindNotFound:
		return http.StatusNotFound
	case resilience.KindConstraint:
		return http.StatusConflict
	case resilience.KindAuthentication:
		return http.StatusUnauthorized
	case resilience.KindAuthorization:
		return http.StatusForbidden
	case resilience.KindRateLimit:
		return http.StatusTooManyRequests
	case resilience.KindTimeout:
		return http.StatusGatewayTimeout
	case resilience.KindNetwork, resilience.KindConnection, resilience.KindServer:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
