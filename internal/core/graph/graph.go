// Package graph is the in-memory task dependency graph. A Graph is built
// from one task snapshot, answers every query from that snapshot and is
// never mutated afterwards.
package graph

import (
	"errors"
	"slices"
	"sort"

	"github.com/vietddude/taskgraph/internal/core/domain"
)

// ErrCycle is returned by TopologicalOrder when the snapshot is cyclic.
var ErrCycle = errors.New("dependency cycle detected")

// Graph is a read-only dependency graph over a task snapshot. An edge from
// A to B means A depends on B.
type Graph struct {
	tasks      map[string]domain.Task
	order      []string            // snapshot order
	deps       map[string][]string // task -> dependency ids, deduplicated
	dependents map[string][]string // task -> tasks depending on it
}

// Build indexes a snapshot. Duplicate dependency ids collapse; the first
// occurrence of a duplicated task id wins.
func Build(tasks []domain.Task) *Graph {
	g := &Graph{
		tasks:      make(map[string]domain.Task, len(tasks)),
		order:      make([]string, 0, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string),
	}

	for _, t := range tasks {
		if _, ok := g.tasks[t.ID]; ok {
			continue
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
	}

	for _, id := range g.order {
		seen := make(map[string]bool)
		for _, dep := range g.tasks[id].Dependencies {
			if dep == "" || seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	for k := range g.dependents {
		sort.Strings(g.dependents[k])
	}
	return g
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Task returns the task with id.
func (g *Graph) Task(id string) (domain.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns the snapshot in its original order.
func (g *Graph) Tasks() []domain.Task {
	out := make([]domain.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Dependencies returns the dependency ids of id, dangling ones included.
func (g *Graph) Dependencies(id string) []string {
	return slices.Clone(g.deps[id])
}

// Dependents returns the ids of tasks that depend on id, sorted.
func (g *Graph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// WouldCreateCycle reports whether adding the edge taskID -> candidateID
// would close a cycle. That is the case exactly when taskID is already
// reachable from candidateID. Self-dependency is always a cycle.
func (g *Graph) WouldCreateCycle(taskID, candidateID string) bool {
	if taskID == candidateID {
		return true
	}

	visited := map[string]bool{candidateID: true}
	stack := []string{candidateID}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == taskID {
			return true
		}
		for _, next := range g.deps[node] {
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// resolve reports whether dep counts as completed. Dangling ids count as
// not completed.
func (g *Graph) resolve(dep string) (domain.Task, bool, bool) {
	t, ok := g.tasks[dep]
	return t, ok, ok && t.IsCompleted()
}

// Blockers returns the incomplete dependencies of id.
func (g *Graph) Blockers(id string) []Blocker {
	var out []Blocker
	for _, dep := range g.deps[id] {
		t, found, done := g.resolve(dep)
		if done {
			continue
		}
		if !found {
			out = append(out, Blocker{ID: dep, Missing: true})
			continue
		}
		out = append(out, Blocker{ID: dep, Title: t.Title, Status: t.Status})
	}
	return out
}

// IsBlocked reports whether id is a non-completed task with an incomplete
// dependency.
func (g *Graph) IsBlocked(id string) bool {
	t, ok := g.tasks[id]
	if !ok || t.IsCompleted() {
		return false
	}
	for _, dep := range g.deps[id] {
		if _, _, done := g.resolve(dep); !done {
			return true
		}
	}
	return false
}

// Blocked returns every blocked task with its blockers, in snapshot order.
func (g *Graph) Blocked() []BlockedTask {
	var out []BlockedTask
	for _, id := range g.order {
		if !g.IsBlocked(id) {
			continue
		}
		out = append(out, BlockedTask{Task: g.tasks[id], Blockers: g.Blockers(id)})
	}
	return out
}

// Available returns every non-completed task that is not blocked, in
// snapshot order.
func (g *Graph) Available() []domain.Task {
	var out []domain.Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.IsCompleted() || g.IsBlocked(id) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// DanglingReferences lists dependency ids that resolve to no task.
func (g *Graph) DanglingReferences() []DanglingRef {
	var out []DanglingRef
	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			if _, ok := g.tasks[dep]; !ok {
				out = append(out, DanglingRef{TaskID: id, DependencyID: dep})
			}
		}
	}
	return out
}

// View returns nodes for every task and edges for every resolved
// dependency.
func (g *Graph) View() View {
	v := View{Nodes: make([]Node, 0, len(g.order)), Edges: []Edge{}}
	for _, id := range g.order {
		t := g.tasks[id]
		v.Nodes = append(v.Nodes, Node{
			ID:       t.ID,
			Title:    t.Title,
			Status:   t.Status,
			Priority: t.Priority,
			Blocked:  g.IsBlocked(id),
		})
		for _, dep := range g.deps[id] {
			if _, ok := g.tasks[dep]; ok {
				v.Edges = append(v.Edges, Edge{From: id, To: dep})
			}
		}
	}
	return v
}
