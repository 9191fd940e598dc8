package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
)

type validator interface {
	Validate() error
}

// Collection is a typed view over one entity type of a Repository.
type Collection[T any] struct {
	repo   *Repository
	entity domain.EntityType
}

// NewCollection binds T to entity.
func NewCollection[T any](repo *Repository, entity domain.EntityType) *Collection[T] {
	return &Collection[T]{repo: repo, entity: entity}
}

// Tasks returns the task collection of repo.
func Tasks(repo *Repository) *Collection[domain.Task] {
	return NewCollection[domain.Task](repo, domain.EntityTasks)
}

// Projects returns the project collection of repo.
func Projects(repo *Repository) *Collection[domain.Project] {
	return NewCollection[domain.Project](repo, domain.EntityProjects)
}

// Schedules returns the schedule collection of repo.
func Schedules(repo *Repository) *Collection[domain.Schedule] {
	return NewCollection[domain.Schedule](repo, domain.EntitySchedules)
}

// Entity returns the entity type of the collection.
func (c *Collection[T]) Entity() domain.EntityType { return c.entity }

// All returns every entity, served from cache when fresh.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	docs, err := c.repo.GetAll(ctx, c.entity)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(docs)
}

// Fresh returns every entity straight from the store.
func (c *Collection[T]) Fresh(ctx context.Context) ([]T, error) {
	docs, err := c.repo.GetAllFresh(ctx, c.entity)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(docs)
}

// Get returns one entity.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	doc, err := c.repo.GetByID(ctx, c.entity, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.decode(doc)
}

// Related returns the entities whose <relation>_id is relatedID.
func (c *Collection[T]) Related(ctx context.Context, relation, relatedID string) ([]T, error) {
	docs, err := c.repo.GetRelated(ctx, c.entity, relation, relatedID)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(docs)
}

// Create validates and stores v.
func (c *Collection[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	if val, ok := any(v).(validator); ok {
		if err := val.Validate(); err != nil {
			return zero, resilience.Classify(err, string(c.entity)+".create")
		}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return zero, resilience.Classify(fmt.Errorf("encode %s: %w", c.entity, err), string(c.entity)+".create")
	}
	doc, err := c.repo.Create(ctx, c.entity, payload)
	if err != nil {
		return zero, err
	}
	return c.decode(doc)
}

// Update merges patch into the entity with id.
func (c *Collection[T]) Update(ctx context.Context, id string, patch Patch) (T, error) {
	doc, err := c.repo.Update(ctx, c.entity, id, patch)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.decode(doc)
}

// Delete removes the entity with id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.repo.Delete(ctx, c.entity, id)
}

func (c *Collection[T]) decode(doc Document) (T, error) {
	var v T
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return v, resilience.Classify(fmt.Errorf("decode %s %s: %w", c.entity, doc.ID, err), string(c.entity)+".decode")
	}
	return v, nil
}

func (c *Collection[T]) decodeAll(docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := c.decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
