package domain

import "time"

// ChangeOperation describes the kind of write that produced a ChangeEvent.
type ChangeOperation string

const (
	ChangeCreate ChangeOperation = "create"
	ChangeUpdate ChangeOperation = "update"
	ChangeDelete ChangeOperation = "delete"
)

// ChangeEvent is emitted after a write to the backing store succeeds.
type ChangeEvent struct {
	Entity     EntityType      `json:"entity"`
	ID         string          `json:"id"`
	Operation  ChangeOperation `json:"operation"`
	Origin     string          `json:"origin"`
	OccurredAt time.Time       `json:"occurred_at"`
}
