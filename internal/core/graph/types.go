package graph

import "github.com/vietddude/taskgraph/internal/core/domain"

// Blocker is a dependency that keeps a task from starting.
type Blocker struct {
	ID     string            `json:"id"`
	Title  string            `json:"title,omitempty"`
	Status domain.TaskStatus `json:"status,omitempty"`

	// Missing is set when the id resolves to no task in the snapshot.
	Missing bool `json:"missing,omitempty"`
}

// BlockedTask is a non-completed task with at least one incomplete
// dependency.
type BlockedTask struct {
	Task     domain.Task `json:"task"`
	Blockers []Blocker   `json:"blocking_tasks"`
}

// DanglingRef is a dependency id that resolves to no task.
type DanglingRef struct {
	TaskID       string `json:"task_id"`
	DependencyID string `json:"dependency_id"`
}

// PriorityScore is the dynamic priority of a task and its components.
type PriorityScore struct {
	TaskID     string  `json:"task_id"`
	Title      string  `json:"title"`
	Base       float64 `json:"base"`
	Deadline   float64 `json:"deadline_bonus"`
	Dependents float64 `json:"dependent_bonus"`
	Effort     float64 `json:"effort_bonus"`
	Score      float64 `json:"score"`
}

// Node is a task in the visualization view.
type Node struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Status   domain.TaskStatus `json:"status"`
	Priority domain.Priority   `json:"priority"`
	Blocked  bool              `json:"blocked"`
}

// Edge points from a task to one of its dependencies.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// View is the graph in node/edge form for visualization.
type View struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
