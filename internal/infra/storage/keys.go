package storage

import (
	"fmt"

	"github.com/vietddude/taskgraph/internal/core/domain"
)

// SummaryPrefix namespaces derived aggregates computed from one or more
// entity collections.
const SummaryPrefix = "summary:"

// AllKey is the cache key of a full collection read.
func AllKey(entity domain.EntityType) string {
	return fmt.Sprintf("%s:all", entity)
}

// IDKey is the cache key of a single entity read.
func IDKey(entity domain.EntityType, id string) string {
	return fmt.Sprintf("%s:%s", entity, id)
}

// RelationKey is the cache key of a relation read, such as the schedules
// of one task.
func RelationKey(entity domain.EntityType, relation, relatedID string) string {
	return fmt.Sprintf("%s:%s:%s", entity, relation, relatedID)
}

// SummaryKey is the cache key of a derived aggregate.
func SummaryKey(name string) string {
	return SummaryPrefix + name
}

// EntityPrefix matches every key of an entity type.
func EntityPrefix(entity domain.EntityType) string {
	return string(entity) + ":"
}
