package domain

import (
	"slices"
	"strings"
	"time"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusCompleted:
		return true
	}
	return false
}

// Priority is the declared importance of a task.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// BaseScore is the declared-priority component of the dynamic priority.
// Unknown priorities score as medium.
func (p Priority) BaseScore() int {
	switch p {
	case PriorityUrgent:
		return 100
	case PriorityHigh:
		return 75
	case PriorityLow:
		return 25
	default:
		return 50
	}
}

// Task is a unit of work. Dependencies holds the ids of tasks that must be
// completed before this one can start.
type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	Dependencies   []string   `json:"dependencies"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	EstimatedHours float64    `json:"estimated_hours"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsCompleted reports whether the task is done. Only the completed status
// counts; every other status is treated as outstanding work.
func (t Task) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}

// DependsOn reports whether id is one of the task's dependencies.
func (t Task) DependsOn(id string) bool {
	return slices.Contains(t.Dependencies, id)
}

// Validate checks the invariants of a task payload.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &FieldError{Field: "title", Reason: "must not be empty"}
	}
	if t.Status != "" && !t.Status.Valid() {
		return &FieldError{Field: "status", Reason: "unknown status " + string(t.Status)}
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return &FieldError{Field: "priority", Reason: "unknown priority " + string(t.Priority)}
	}
	if t.EstimatedHours < 0 {
		return &FieldError{Field: "estimated_hours", Reason: "must be >= 0"}
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID && dep != "" {
			return &FieldError{Field: "dependencies", Reason: "task cannot depend on itself"}
		}
	}
	return nil
}

// FieldError reports an invalid field on an entity payload.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// InvalidField returns the name of the offending field.
func (e *FieldError) InvalidField() string {
	return e.Field
}
