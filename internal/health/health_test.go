package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/core/dependency"
	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/graph"
	"github.com/vietddude/taskgraph/internal/infra/cache"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
	"github.com/vietddude/taskgraph/internal/infra/storage"
	"github.com/vietddude/taskgraph/internal/infra/storage/memory"
)

// =============================================================================
// Stubs
// =============================================================================

type stubPinger struct {
	err   error
	calls int
}

func (s *stubPinger) Ping(ctx context.Context) error {
	s.calls++
	return s.err
}

type stubBreakers []resilience.BreakerStatus

func (s stubBreakers) Snapshot() []resilience.BreakerStatus { return s }

type stubCache int

func (s stubCache) Len() int { return int(s) }

// =============================================================================
// Monitor
// =============================================================================

func TestMonitor_Status(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		breakers stubBreakers
		want     SystemStatus
	}{
		{
			name: "healthy",
			breakers: stubBreakers{
				{Name: "tasks.read", State: "closed"},
			},
			want: StatusHealthy,
		},
		{
			name: "open breaker degrades",
			breakers: stubBreakers{
				{Name: "tasks.read", State: "closed"},
				{Name: "tasks.write", State: "open", Failures: 5},
			},
			want: StatusDegraded,
		},
		{
			name: "half-open breaker degrades",
			breakers: stubBreakers{
				{Name: "tasks.read", State: "half-open"},
			},
			want: StatusDegraded,
		},
		{
			name:    "store down is critical",
			pingErr: errors.New("connection refused"),
			want:    StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&stubPinger{err: tt.pingErr}, tt.breakers, stubCache(3), clock.NewFake(time.Now()))
			report := m.CheckHealth(context.Background())
			if report.SystemStatus != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.SystemStatus)
			}
			if report.CacheEntries != 3 {
				t.Errorf("expected 3 cache entries, got %d", report.CacheEntries)
			}
		})
	}
}

func TestMonitor_RateLimitsChecks(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	pinger := &stubPinger{}
	m := NewMonitor(pinger, nil, nil, clk)

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if pinger.calls != 1 {
		t.Errorf("expected cached report within interval, got %d pings", pinger.calls)
	}

	clk.Advance(11 * time.Second)
	m.CheckHealth(context.Background())
	if pinger.calls != 2 {
		t.Errorf("expected a new ping after the interval, got %d", pinger.calls)
	}
}

// =============================================================================
// Server
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *storage.Collection[domain.Task]) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	clk.SetAutoAdvance(true)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	breakers := resilience.NewBreakerSet(resilience.DefaultBreakerConfig, clk, log)
	repo := storage.NewRepository(storage.Deps{
		Store:    memory.NewStore(),
		Cache:    cache.New(clk),
		Executor: resilience.NewExecutor(clk, log),
		Breakers: breakers,
		Clock:    clk,
		Logger:   log,
	}, storage.Config{})

	mgr := dependency.NewManager(repo, clk, log)
	srv := NewServer(NewMonitor(repo, repo.Breakers(), repo.Cache(), clk), mgr, 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, storage.Tasks(repo)
}

func seed(t *testing.T, tasks *storage.Collection[domain.Task]) {
	t.Helper()
	for _, task := range []domain.Task{
		{ID: "design", Title: "Design", Status: domain.TaskStatusTodo, Priority: domain.PriorityMedium},
		{ID: "build", Title: "Build", Status: domain.TaskStatusTodo, Priority: domain.PriorityHigh, Dependencies: []string{"design"}},
	} {
		if _, err := tasks.Create(context.Background(), task); err != nil {
			t.Fatalf("seed %s: %v", task.ID, err)
		}
	}
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body)
	}

	detailed := decode[HealthReport](t, do(t, http.MethodGet, ts.URL+"/health/detailed", ""))
	if detailed.Store.Status != StatusHealthy {
		t.Errorf("expected healthy store, got %+v", detailed.Store)
	}
}

func TestServer_GraphQueries(t *testing.T) {
	ts, tasks := newTestServer(t)
	seed(t, tasks)

	blocked := decode[[]graph.BlockedTask](t, do(t, http.MethodGet, ts.URL+"/api/tasks/blocked", ""))
	if len(blocked) != 1 || blocked[0].Task.ID != "build" || blocked[0].Blockers[0].Title != "Design" {
		t.Errorf("unexpected blocked tasks %+v", blocked)
	}

	available := decode[[]domain.Task](t, do(t, http.MethodGet, ts.URL+"/api/tasks/available", ""))
	if len(available) != 1 || available[0].ID != "design" {
		t.Errorf("unexpected available tasks %+v", available)
	}

	score := decode[graph.PriorityScore](t, do(t, http.MethodGet, ts.URL+"/api/tasks/design/priority", ""))
	// medium base plus one dependent
	if score.Score != 60 {
		t.Errorf("expected score 60, got %v", score.Score)
	}

	view := decode[graph.View](t, do(t, http.MethodGet, ts.URL+"/api/graph", ""))
	if len(view.Nodes) != 2 || len(view.Edges) != 1 {
		t.Errorf("unexpected view %+v", view)
	}
}

func TestServer_DependencyMutations(t *testing.T) {
	ts, tasks := newTestServer(t)
	seed(t, tasks)

	// design -> build would close the loop
	resp := do(t, http.MethodPost, ts.URL+"/api/tasks/design/dependencies", `{"dependency_id":"build"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a cycle, got %d", resp.StatusCode)
	}
	body := decode[ErrorResponse](t, resp)
	if body.Kind != resilience.KindValidation || body.Retryable {
		t.Errorf("unexpected error body %+v", body)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/tasks/design/dependencies", `{"dependency_id":"ghost"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for a missing task, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/tasks/design/dependencies", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing dependency_id, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodDelete, ts.URL+"/api/tasks/build/dependencies/design", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if task := decode[domain.Task](t, resp); len(task.Dependencies) != 0 {
		t.Errorf("expected dependency removed, got %v", task.Dependencies)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/tasks/design/dependencies", `{"dependency_id":"build"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected edge accepted once the reverse edge is gone, got %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *resilience.ClassifiedError
		want int
	}{
		{resilience.NewValidationError("title", "required"), http.StatusBadRequest},
		{resilience.NewNotFoundError("tasks", "x"), http.StatusNotFound},
		{&resilience.ClassifiedError{Kind: resilience.KindConstraint}, http.StatusConflict},
		{&resilience.ClassifiedError{Kind: resilience.KindRateLimit}, http.StatusTooManyRequests},
		{&resilience.ClassifiedError{Kind: resilience.KindServer, Code: resilience.CodeCircuitOpen}, http.StatusServiceUnavailable},
		{&resilience.ClassifiedError{Kind: resilience.KindUnknown}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.err.Kind, tt.want, got)
		}
	}
}
