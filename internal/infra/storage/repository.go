// Package storage is the single access path to the backing store. Reads are
// served from the cache, every store call runs under a retry policy and a
// circuit breaker, and writes invalidate the affected cache keys before
// announcing the change on the event bus.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/events"
	"github.com/vietddude/taskgraph/internal/infra/cache"
	"github.com/vietddude/taskgraph/internal/infra/lock"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
	"github.com/vietddude/taskgraph/internal/metrics"
)

// Config tunes the repository.
type Config struct {
	// TTL per volatility class.
	TTL map[domain.Volatility]time.Duration

	// Derived lists extra key prefixes to drop after a write to an entity,
	// for aggregates computed from it.
	Derived map[domain.EntityType][]string

	// Origin identifies this process on change events.
	Origin string
}

// DefaultTTL returns the cache lifetime per volatility class.
func DefaultTTL() map[domain.Volatility]time.Duration {
	return map[domain.Volatility]time.Duration{
		domain.VolatilityShort:  time.Minute,
		domain.VolatilityMedium: 5 * time.Minute,
		domain.VolatilityLong:   30 * time.Minute,
	}
}

// DefaultDerived returns the aggregate prefixes invalidated per entity.
func DefaultDerived() map[domain.EntityType][]string {
	return map[domain.EntityType][]string{
		domain.EntityTasks:     {SummaryPrefix},
		domain.EntityProjects:  {SummaryPrefix},
		domain.EntitySchedules: {SummaryPrefix},
	}
}

// Deps are the process-wide collaborators the repository composes.
type Deps struct {
	Store    Store
	Cache    *cache.Cache
	Executor *resilience.Executor
	Breakers *resilience.BreakerSet
	Policies resilience.Policies
	Bus      *events.Bus
	Locker   lock.Locker
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Repository is the façade every caller uses for store access.
type Repository struct {
	store    Store
	cache    *cache.Cache
	exec     *resilience.Executor
	breakers *resilience.BreakerSet
	policies resilience.Policies
	bus      *events.Bus
	locker   lock.Locker
	clock    clock.Clock
	log      *slog.Logger

	ttl     map[domain.Volatility]time.Duration
	derived map[domain.EntityType][]string
	origin  string
}

// NewRepository wires a repository. Missing collaborators get defaults.
func NewRepository(deps Deps, cfg Config) *Repository {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(deps.Clock)
	}
	if deps.Executor == nil {
		deps.Executor = resilience.NewExecutor(deps.Clock, deps.Logger)
	}
	if deps.Breakers == nil {
		deps.Breakers = resilience.NewBreakerSet(resilience.DefaultBreakerConfig, deps.Clock, deps.Logger)
	}
	if deps.Policies == nil {
		deps.Policies = resilience.DefaultPolicies()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if cfg.TTL == nil {
		cfg.TTL = DefaultTTL()
	}
	if cfg.Derived == nil {
		cfg.Derived = DefaultDerived()
	}
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}

	return &Repository{
		store:    deps.Store,
		cache:    deps.Cache,
		exec:     deps.Executor,
		breakers: deps.Breakers,
		policies: deps.Policies,
		bus:      deps.Bus,
		locker:   deps.Locker,
		clock:    deps.Clock,
		log:      deps.Logger,
		ttl:      cfg.TTL,
		derived:  cfg.Derived,
		origin:   cfg.Origin,
	}
}

// Origin returns the id stamped on events published by this repository.
func (r *Repository) Origin() string { return r.origin }

// Cache returns the cache backing reads.
func (r *Repository) Cache() *cache.Cache { return r.cache }

// Locker returns the lock serializing dependency writes.
func (r *Repository) Locker() lock.Locker { return r.locker }

// Breakers returns the circuit breakers guarding store calls.
func (r *Repository) Breakers() *resilience.BreakerSet { return r.breakers }

// TTL returns the cache lifetime for entity.
func (r *Repository) TTL(entity domain.EntityType) time.Duration {
	if d, ok := r.ttl[entity.Volatility()]; ok {
		return d
	}
	return time.Minute
}

// GetAll returns every document of entity.
func (r *Repository) GetAll(ctx context.Context, entity domain.EntityType) ([]Document, error) {
	docs, err := cache.WithCache(ctx, r.cache, AllKey(entity), r.TTL(entity),
		func(ctx context.Context) ([]Document, error) {
			return r.list(ctx, entity)
		})
	if err != nil {
		return nil, err
	}
	return cloneDocuments(docs), nil
}

// GetAllFresh bypasses the cache. Use it when a decision must be made
// against the current state of the store, such as a cycle check.
func (r *Repository) GetAllFresh(ctx context.Context, entity domain.EntityType) ([]Document, error) {
	return r.list(ctx, entity)
}

func (r *Repository) list(ctx context.Context, entity domain.EntityType) ([]Document, error) {
	var docs []Document
	err := r.call(ctx, entity, resilience.ClassRead, "list", func(ctx context.Context) error {
		var err error
		docs, err = r.store.List(ctx, entity)
		return err
	})
	return docs, err
}

// GetByID returns one document.
func (r *Repository) GetByID(ctx context.Context, entity domain.EntityType, id string) (Document, error) {
	doc, err := cache.WithCache(ctx, r.cache, IDKey(entity, id), r.TTL(entity),
		func(ctx context.Context) (Document, error) {
			var doc Document
			err := r.call(ctx, entity, resilience.ClassRead, "get", func(ctx context.Context) error {
				var err error
				doc, err = r.store.Get(ctx, entity, id)
				return err
			})
			return doc, err
		})
	if err != nil {
		return Document{}, err
	}
	return doc.Clone(), nil
}

// GetRelated returns the documents of entity whose <relation>_id field is
// relatedID, for example the schedules of one task.
func (r *Repository) GetRelated(ctx context.Context, entity domain.EntityType, relation, relatedID string) ([]Document, error) {
	docs, err := cache.WithCache(ctx, r.cache, RelationKey(entity, relation, relatedID), r.TTL(entity),
		func(ctx context.Context) ([]Document, error) {
			var docs []Document
			err := r.call(ctx, entity, resilience.ClassRead, "list_by", func(ctx context.Context) error {
				var err error
				docs, err = r.store.ListBy(ctx, entity, relation+"_id", relatedID)
				return err
			})
			return docs, err
		})
	if err != nil {
		return nil, err
	}
	return cloneDocuments(docs), nil
}

// Create stores a new entity. An id is generated when the payload has none;
// created_at and updated_at are always set by the repository. A task created
// with dependencies is checked for cycles under the dependency lock.
func (r *Repository) Create(ctx context.Context, entity domain.EntityType, payload json.RawMessage) (Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Document{}, resilience.NewValidationError("", fmt.Sprintf("invalid %s payload: %v", entity, err))
	}
	if fields == nil {
		fields = make(map[string]any)
	}

	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	now := r.clock.Now().UTC()
	fields["id"] = id
	fields["created_at"] = now
	fields["updated_at"] = now

	if entity == domain.EntityTasks {
		release, err := r.guardDependencies(ctx, id, fields)
		if err != nil {
			return Document{}, err
		}
		defer release()
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return Document{}, resilience.Classify(err, string(entity)+".create")
	}

	doc := Document{ID: id, Type: entity, Data: data, CreatedAt: now, UpdatedAt: now}
	var out Document
	err = r.call(ctx, entity, resilience.ClassWrite, "create", func(ctx context.Context) error {
		var err error
		out, err = r.store.Insert(ctx, doc)
		return err
	})
	if err != nil {
		return Document{}, err
	}

	r.afterWrite(entity, id, domain.ChangeCreate)
	return out, nil
}

// Update merges patch into an entity. The id and created_at keys are
// immutable and ignored if present. A patch that sets task dependencies is
// checked for cycles under the dependency lock.
func (r *Repository) Update(ctx context.Context, entity domain.EntityType, id string, patch Patch) (Document, error) {
	changes := make(Patch, len(patch)+1)
	for k, v := range patch {
		if k == "id" || k == "created_at" {
			continue
		}
		changes[k] = v
	}
	changes["updated_at"] = r.clock.Now().UTC()

	if entity == domain.EntityTasks {
		release, err := r.guardDependencies(ctx, id, changes)
		if err != nil {
			return Document{}, err
		}
		defer release()
	}

	raw, err := json.Marshal(changes)
	if err != nil {
		return Document{}, resilience.NewValidationError("", fmt.Sprintf("invalid %s patch: %v", entity, err))
	}

	var out Document
	err = r.call(ctx, entity, resilience.ClassWrite, "update", func(ctx context.Context) error {
		var err error
		out, err = r.store.Update(ctx, entity, id, raw)
		return err
	})
	if err != nil {
		return Document{}, err
	}

	r.afterWrite(entity, id, domain.ChangeUpdate)
	return out, nil
}

// Delete removes an entity.
func (r *Repository) Delete(ctx context.Context, entity domain.EntityType, id string) error {
	err := r.call(ctx, entity, resilience.ClassWrite, "delete", func(ctx context.Context) error {
		return r.store.Delete(ctx, entity, id)
	})
	if err != nil {
		return err
	}

	r.afterWrite(entity, id, domain.ChangeDelete)
	return nil
}

// Ping checks the store under the critical policy.
func (r *Repository) Ping(ctx context.Context) error {
	return r.exec.Execute(ctx, r.policies.For(resilience.ClassCritical), "store.ping", func(ctx context.Context) error {
		return r.breakers.For("store.ping").Execute(ctx, r.store.Ping)
	})
}

// Invalidate drops every cached key of entity and its derived aggregates.
func (r *Repository) Invalidate(entity domain.EntityType) int {
	removed := r.cache.InvalidatePrefix(EntityPrefix(entity))
	for _, prefix := range r.derived[entity] {
		removed += r.cache.InvalidatePrefix(prefix)
	}
	return removed
}

// ApplyChange invalidates the cache for a change made by another process.
// Events from this repository are ignored.
func (r *Repository) ApplyChange(ev domain.ChangeEvent) {
	if ev.Origin == r.origin {
		return
	}
	removed := r.Invalidate(ev.Entity)
	r.log.Debug("Applied remote change",
		"entity", ev.Entity,
		"id", ev.ID,
		"operation", ev.Operation,
		"origin", ev.Origin,
		"invalidated", removed,
	)
}

func (r *Repository) afterWrite(entity domain.EntityType, id string, op domain.ChangeOperation) {
	removed := r.Invalidate(entity)
	r.log.Debug("Invalidated cache after write",
		"entity", entity,
		"id", id,
		"operation", op,
		"invalidated", removed,
	)

	if r.bus != nil {
		r.bus.Publish(domain.ChangeEvent{
			Entity:     entity,
			ID:         id,
			Operation:  op,
			Origin:     r.origin,
			OccurredAt: r.clock.Now().UTC(),
		})
	}
}

// call runs op under the retry policy of class, with the breaker of
// <entity>.<class> around each attempt.
func (r *Repository) call(ctx context.Context, entity domain.EntityType, class resilience.OpClass, op string, fn func(context.Context) error) error {
	breaker := r.breakers.For(fmt.Sprintf("%s.%s", entity, class))
	where := fmt.Sprintf("%s.%s", entity, op)

	return r.exec.Execute(ctx, r.policies.For(class), where, func(ctx context.Context) error {
		return breaker.Execute(ctx, func(ctx context.Context) error {
			start := r.clock.Now()
			err := fn(ctx)
			metrics.StoreLatency.WithLabelValues(string(entity), op).Observe(r.clock.Now().Sub(start).Seconds())
			return err
		})
	})
}

// Derived caches an aggregate computed from entity reads under
// summary:<name>. It is dropped whenever a contributing entity is written.
func Derived[T any](ctx context.Context, r *Repository, name string, fetch func(context.Context) (T, error)) (T, error) {
	return cache.WithCache(ctx, r.cache, SummaryKey(name), r.TTL(domain.EntityTasks), fetch)
}
