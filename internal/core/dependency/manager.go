// Package dependency manages task dependencies on top of the repository:
// edge mutations with cycle protection, and graph queries over a single
// cached snapshot.
package dependency

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/graph"
	"github.com/vietddude/taskgraph/internal/infra/lock"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
	"github.com/vietddude/taskgraph/internal/infra/storage"
	"github.com/vietddude/taskgraph/internal/metrics"
)

// Manager is the dependency graph surface.
type Manager struct {
	repo   *storage.Repository
	tasks  *storage.Collection[domain.Task]
	locker lock.Locker
	clock  clock.Clock
	log    *slog.Logger

	mu           sync.Mutex
	lastDangling string
}

// NewManager creates a manager. Edge mutations share the repository's
// dependency lock, so they serialize with any other task write that sets
// dependencies.
func NewManager(repo *storage.Repository, clk clock.Clock, log *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		repo:   repo,
		tasks:  storage.Tasks(repo),
		locker: repo.Locker(),
		clock:  clk,
		log:    log,
	}
}

// Snapshot builds a graph from the cached task collection.
func (m *Manager) Snapshot(ctx context.Context) (*graph.Graph, error) {
	tasks, err := m.tasks.All(ctx)
	if err != nil {
		return nil, err
	}
	g := graph.Build(tasks)
	m.reportDangling(g)
	return g, nil
}

func (m *Manager) freshSnapshot(ctx context.Context) (*graph.Graph, error) {
	tasks, err := m.tasks.Fresh(ctx)
	if err != nil {
		return nil, err
	}
	return graph.Build(tasks), nil
}

// reportDangling keeps the gauge current on every snapshot but only warns
// when the set of dangling references differs from the last one reported.
func (m *Manager) reportDangling(g *graph.Graph) {
	refs := g.DanglingReferences()
	metrics.DanglingDependencies.Set(float64(len(refs)))

	pairs := make([]string, len(refs))
	for i, ref := range refs {
		pairs[i] = ref.TaskID + "->" + ref.DependencyID
	}
	slices.Sort(pairs)
	signature := strings.Join(pairs, ",")

	m.mu.Lock()
	changed := signature != m.lastDangling
	m.lastDangling = signature
	m.mu.Unlock()

	level := slog.LevelDebug
	if changed {
		level = slog.LevelWarn
	}
	for _, ref := range refs {
		m.log.Log(context.Background(), level, "Dependency references a missing task",
			"task", ref.TaskID,
			"dependency", ref.DependencyID,
		)
	}
	if changed && len(refs) == 0 {
		m.log.Info("Dangling dependencies resolved")
	}
}

// AddDependency makes taskID depend on dependencyID. Self-dependencies and
// edges that would close a cycle are rejected as validation errors; both
// ids must exist. Adding an existing edge is a no-op.
func (m *Manager) AddDependency(ctx context.Context, taskID, dependencyID string) (domain.Task, error) {
	if taskID == dependencyID {
		return domain.Task{}, resilience.NewValidationError("dependencies", "a task cannot depend on itself")
	}

	unlock, err := m.locker.Lock(ctx, storage.DependencyLockKey)
	if err != nil {
		return domain.Task{}, resilience.Classify(fmt.Errorf("lock dependencies: %w", err), "tasks.add_dependency")
	}
	defer unlock()
	ctx = lock.WithHeld(ctx, storage.DependencyLockKey)

	// Decide against the store, not the cache: a concurrent writer may have
	// added edges since the last cached read.
	g, err := m.freshSnapshot(ctx)
	if err != nil {
		return domain.Task{}, err
	}

	task, ok := g.Task(taskID)
	if !ok {
		return domain.Task{}, resilience.NewNotFoundError(string(domain.EntityTasks), taskID)
	}
	if _, ok := g.Task(dependencyID); !ok {
		return domain.Task{}, resilience.NewNotFoundError(string(domain.EntityTasks), dependencyID)
	}
	if task.DependsOn(dependencyID) {
		return task, nil
	}
	if g.WouldCreateCycle(taskID, dependencyID) {
		return domain.Task{}, resilience.NewValidationError("dependencies",
			fmt.Sprintf("adding %s as a dependency of %s would create a cycle", dependencyID, taskID))
	}

	deps := append(slices.Clone(task.Dependencies), dependencyID)
	updated, err := m.tasks.Update(ctx, taskID, storage.Patch{"dependencies": deps})
	if err != nil {
		return domain.Task{}, err
	}

	m.log.Info("Dependency added", "task", taskID, "dependency", dependencyID)
	return updated, nil
}

// RemoveDependency drops dependencyID from taskID. Removing an absent edge
// is a no-op.
func (m *Manager) RemoveDependency(ctx context.Context, taskID, dependencyID string) (domain.Task, error) {
	unlock, err := m.locker.Lock(ctx, storage.DependencyLockKey)
	if err != nil {
		return domain.Task{}, resilience.Classify(fmt.Errorf("lock dependencies: %w", err), "tasks.remove_dependency")
	}
	defer unlock()
	ctx = lock.WithHeld(ctx, storage.DependencyLockKey)

	g, err := m.freshSnapshot(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	task, ok := g.Task(taskID)
	if !ok {
		return domain.Task{}, resilience.NewNotFoundError(string(domain.EntityTasks), taskID)
	}
	if !task.DependsOn(dependencyID) {
		return task, nil
	}

	deps := slices.DeleteFunc(slices.Clone(task.Dependencies), func(id string) bool { return id == dependencyID })
	updated, err := m.tasks.Update(ctx, taskID, storage.Patch{"dependencies": deps})
	if err != nil {
		return domain.Task{}, err
	}

	m.log.Info("Dependency removed", "task", taskID, "dependency", dependencyID)
	return updated, nil
}

// BlockedTasks returns every blocked task with the tasks blocking it.
func (m *Manager) BlockedTasks(ctx context.Context) ([]graph.BlockedTask, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return g.Blocked(), nil
}

// AvailableTasks returns every task that can be started now.
func (m *Manager) AvailableTasks(ctx context.Context) ([]domain.Task, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return g.Available(), nil
}

// Graph returns the node/edge view of every task.
func (m *Manager) Graph(ctx context.Context) (graph.View, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return graph.View{}, err
	}
	return g.View(), nil
}

// DynamicPriority scores one task against the current snapshot.
func (m *Manager) DynamicPriority(ctx context.Context, taskID string) (graph.PriorityScore, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return graph.PriorityScore{}, err
	}
	score, ok := g.Priority(taskID, m.clock.Now())
	if !ok {
		return graph.PriorityScore{}, resilience.NewNotFoundError(string(domain.EntityTasks), taskID)
	}
	return score, nil
}

// RankedTasks returns available tasks by descending dynamic priority. The
// ranking is cached as a derived aggregate and dropped on any task write.
func (m *Manager) RankedTasks(ctx context.Context) ([]graph.PriorityScore, error) {
	ranked, err := storage.Derived(ctx, m.repo, "priority", func(ctx context.Context) ([]graph.PriorityScore, error) {
		g, err := m.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return g.Ranked(m.clock.Now()), nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(ranked), nil
}

// TopologicalOrder returns task ids with dependencies first.
func (m *Manager) TopologicalOrder(ctx context.Context) ([]string, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, resilience.NewValidationError("dependencies", err.Error())
	}
	return order, nil
}

// DanglingReferences lists dependency ids that point at no task.
func (m *Manager) DanglingReferences(ctx context.Context) ([]graph.DanglingRef, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return g.DanglingReferences(), nil
}

// Watch refreshes the data-integrity report whenever tasks change, until
// ctx is done or changes is closed.
func (m *Manager) Watch(ctx context.Context, changes <-chan domain.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-changes:
			if !ok {
				return nil
			}
			if ev.Entity != domain.EntityTasks {
				continue
			}
			if _, err := m.Snapshot(ctx); err != nil {
				m.log.Warn("Failed to refresh dependency report", "task", ev.ID, "error", err)
			}
		}
	}
}
