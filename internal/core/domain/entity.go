package domain

import (
	"strings"
	"time"
)

// EntityType names a collection in the backing store.
type EntityType string

const (
	EntityTasks     EntityType = "tasks"
	EntityProjects  EntityType = "projects"
	EntitySchedules EntityType = "schedules"
)

// Volatility groups entity types by how quickly their data goes stale.
type Volatility string

const (
	VolatilityShort  Volatility = "short"
	VolatilityMedium Volatility = "medium"
	VolatilityLong   Volatility = "long"
)

// EntityVolatility maps each entity type to its cache volatility class.
var EntityVolatility = map[EntityType]Volatility{
	EntityTasks:     VolatilityShort,
	EntitySchedules: VolatilityMedium,
	EntityProjects:  VolatilityLong,
}

// Volatility returns the volatility class of e, short when unknown.
func (e EntityType) Volatility() Volatility {
	if v, ok := EntityVolatility[e]; ok {
		return v
	}
	return VolatilityShort
}

// ParseEntityType converts a user supplied name to an EntityType.
func ParseEntityType(s string) (EntityType, bool) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := EntityVolatility[e]
	return e, ok
}

// Project groups tasks.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the invariants of a project payload.
func (p Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &FieldError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// Schedule is a time block reserved for a task.
type Schedule struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the invariants of a schedule payload.
func (s Schedule) Validate() error {
	if s.TaskID == "" {
		return &FieldError{Field: "task_id", Reason: "must not be empty"}
	}
	if !s.EndsAt.After(s.StartsAt) {
		return &FieldError{Field: "ends_at", Reason: "must be after starts_at"}
	}
	return nil
}
