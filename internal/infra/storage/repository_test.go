package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/events"
	"github.com/vietddude/taskgraph/internal/infra/cache"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
	"github.com/vietddude/taskgraph/internal/infra/storage"
	"github.com/vietddude/taskgraph/internal/infra/storage/memory"
)

// countingStore wraps the memory store, counting reads and injecting
// failures on demand.
type countingStore struct {
	*memory.Store

	mu       sync.Mutex
	lists    int
	gets     int
	failures int
	failWith error
}

func (s *countingStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return s.failWith
	}
	return nil
}

func (s *countingStore) List(ctx context.Context, entity domain.EntityType) ([]storage.Document, error) {
	s.mu.Lock()
	s.lists++
	s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.Store.List(ctx, entity)
}

func (s *countingStore) Get(ctx context.Context, entity domain.EntityType, id string) (storage.Document, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	if err := s.fail(); err != nil {
		return storage.Document{}, err
	}
	return s.Store.Get(ctx, entity, id)
}

func (s *countingStore) counts() (lists, gets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists, s.gets
}

type fixture struct {
	store *countingStore
	repo  *storage.Repository
	bus   *events.Bus
	clock *clock.Fake
}

func newFixture(t *testing.T, breaker resilience.BreakerConfig) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	clk.SetAutoAdvance(true)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &countingStore{Store: memory.NewStore()}
	bus := events.NewBus()

	repo := storage.NewRepository(storage.Deps{
		Store:    store,
		Cache:    cache.New(clk),
		Executor: resilience.NewExecutor(clk, log),
		Breakers: resilience.NewBreakerSet(breaker, clk, log),
		Bus:      bus,
		Clock:    clk,
		Logger:   log,
	}, storage.Config{Origin: "node-a"})

	return &fixture{store: store, repo: repo, bus: bus, clock: clk}
}

func TestRepository_UpdateInvalidatesCachedRead(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)
	ctx := context.Background()
	tasks := storage.Tasks(f.repo)

	created, err := tasks.Create(ctx, domain.Task{Title: "write report", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}

	// Warm both the item and the collection keys.
	if _, err := tasks.Get(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := tasks.All(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := tasks.Update(ctx, created.ID, storage.Patch{"title": "write final report"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := tasks.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "write final report" {
		t.Errorf("expected post-patch title, got %q", got.Title)
	}

	all, err := tasks.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Title != "write final report" {
		t.Errorf("expected collection read to reflect the patch, got %+v", all)
	}
}

func TestRepository_ReadsAreCached(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)
	ctx := context.Background()
	tasks := storage.Tasks(f.repo)

	for i := 0; i < 3; i++ {
		if _, err := tasks.All(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if lists, _ := f.store.counts(); lists != 1 {
		t.Errorf("expected 1 store list, got %d", lists)
	}

	// tasks are short-lived: one minute.
	f.clock.Advance(61 * time.Second)
	if _, err := tasks.All(ctx); err != nil {
		t.Fatal(err)
	}
	if lists, _ := f.store.counts(); lists != 2 {
		t.Errorf("expected refetch after TTL, got %d lists", lists)
	}
}

func TestRepository_ReturnedDocumentsAreCopies(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)
	ctx := context.Background()

	doc, err := f.repo.Create(ctx, domain.EntityProjects, json.RawMessage(`{"name":"home"}`))
	if err != nil {
		t.Fatal(err)
	}
	first, _ := f.repo.GetByID(ctx, domain.EntityProjects, doc.ID)
	for i := range first.Data {
		first.Data[i] = ' '
	}

	second, err := f.repo.GetByID(ctx, domain.EntityProjects, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := storage.FieldString(second.Data, "name"); name != "home" {
		t.Errorf("cached document was mutated through a returned copy: %s", second.Data)
	}
}

func TestRepository_NotFoundIsClassified(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)

	_, err := storage.Tasks(f.repo).Get(context.Background(), "missing")
	if !errors.Is(err, resilience.ErrNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if _, gets := f.store.counts(); gets != 1 {
		t.Errorf("not_found must not be retried, got %d gets", gets)
	}
}

func TestRepository_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)
	f.store.failures = 2
	f.store.failWith = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

	if _, err := storage.Tasks(f.repo).All(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if lists, _ := f.store.counts(); lists != 3 {
		t.Errorf("expected 3 attempts, got %d", lists)
	}
}

func TestRepository_CircuitOpensPerClass(t *testing.T) {
	f := newFixture(t, resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	ctx := context.Background()
	tasks := storage.Tasks(f.repo)
	f.store.failures = -1
	f.store.failWith = errors.New("connection reset by peer")

	// The read policy retries three times, so the first call exhausts the
	// breaker after two attempts and then fails fast.
	_, err := tasks.All(ctx)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	lists, _ := f.store.counts()
	if lists != 2 {
		t.Errorf("expected store called twice before tripping, got %d", lists)
	}

	_, err = tasks.All(ctx)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected fast fail, got %v", err)
	}
	if again, _ := f.store.counts(); again != lists {
		t.Errorf("open circuit must not reach the store")
	}

	// Writes use their own breaker.
	f.store.failures = 0
	if _, err := tasks.Create(ctx, domain.Task{Title: "still writable"}); err != nil {
		t.Errorf("expected writes unaffected by the read breaker, got %v", err)
	}
}

func TestRepository_CreateValidatesBeforeStore(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)

	_, err := storage.Tasks(f.repo).Create(context.Background(), domain.Task{Title: "  "})
	ce, ok := resilience.AsClassified(err)
	if !ok || ce.Kind != resilience.KindValidation || ce.Field != "title" {
		t.Fatalf("expected validation error on title, got %v", err)
	}
	if f.store.Len(domain.EntityTasks) != 0 {
		t.Error("invalid payload reached the store")
	}
}

func TestRepository_PublishesAndAppliesChanges(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)
	ctx := context.Background()
	sub, cancel := f.bus.Subscribe(4)
	defer cancel()

	p, err := storage.Projects(f.repo).Create(ctx, domain.Project{Name: "garden"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub:
		if ev.Entity != domain.EntityProjects || ev.ID != p.ID || ev.Operation != domain.ChangeCreate || ev.Origin != "node-a" {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected a change event")
	}

	if _, err := storage.Projects(f.repo).All(ctx); err != nil {
		t.Fatal(err)
	}
	c := f.repo.Cache()

	f.repo.ApplyChange(domain.ChangeEvent{Entity: domain.EntityProjects, Origin: "node-a"})
	if _, ok := c.Get(storage.AllKey(domain.EntityProjects)); !ok {
		t.Error("own events must not invalidate again")
	}

	f.repo.ApplyChange(domain.ChangeEvent{Entity: domain.EntityProjects, Origin: "node-b"})
	if _, ok := c.Get(storage.AllKey(domain.EntityProjects)); ok {
		t.Error("remote change must invalidate the collection")
	}
}

func TestRepository_RelatedAndDerived(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	schedules := storage.Schedules(f.repo)
	for _, task := range []string{"t1", "t1", "t2"} {
		if _, err := schedules.Create(ctx, domain.Schedule{TaskID: task, StartsAt: start, EndsAt: start.Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := schedules.Related(ctx, "task", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 schedules for t1, got %d", len(got))
	}
	if _, ok := f.repo.Cache().Get("schedules:task:t1"); !ok {
		t.Error("expected relation read cached under schedules:task:t1")
	}

	calls := 0
	count := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}
	_, _ = storage.Derived(ctx, f.repo, "workload", count)
	_, _ = storage.Derived(ctx, f.repo, "workload", count)
	if calls != 1 {
		t.Fatalf("expected derived value cached, got %d computations", calls)
	}

	if _, err := storage.Tasks(f.repo).Create(ctx, domain.Task{Title: "new"}); err != nil {
		t.Fatal(err)
	}
	_, _ = storage.Derived(ctx, f.repo, "workload", count)
	if calls != 2 {
		t.Errorf("expected task write to drop derived aggregates, got %d computations", calls)
	}
}

func TestRepository_DependencyWritesRejectCycles(t *testing.T) {
	tests := []struct {
		name  string
		seed  []domain.Task
		write func(ctx context.Context, tasks *storage.Collection[domain.Task]) error
	}{
		{
			name: "update closes a chain",
			seed: []domain.Task{
				{ID: "A", Title: "a"},
				{ID: "B", Title: "b", Dependencies: []string{"A"}},
				{ID: "C", Title: "c", Dependencies: []string{"B"}},
			},
			write: func(ctx context.Context, tasks *storage.Collection[domain.Task]) error {
				_, err := tasks.Update(ctx, "A", storage.Patch{"dependencies": []string{"C"}})
				return err
			},
		},
		{
			name: "decoded patch closes a chain",
			seed: []domain.Task{
				{ID: "A", Title: "a"},
				{ID: "B", Title: "b", Dependencies: []string{"A"}},
			},
			write: func(ctx context.Context, tasks *storage.Collection[domain.Task]) error {
				_, err := tasks.Update(ctx, "A", storage.Patch{"dependencies": []any{"B"}})
				return err
			},
		},
		{
			name: "create resolves a dangling edge into a cycle",
			seed: []domain.Task{
				{ID: "A", Title: "a", Dependencies: []string{"X"}},
			},
			write: func(ctx context.Context, tasks *storage.Collection[domain.Task]) error {
				_, err := tasks.Create(ctx, domain.Task{ID: "X", Title: "x", Dependencies: []string{"A"}})
				return err
			},
		},
		{
			name: "update to itself",
			seed: []domain.Task{{ID: "A", Title: "a"}},
			write: func(ctx context.Context, tasks *storage.Collection[domain.Task]) error {
				_, err := tasks.Update(ctx, "A", storage.Patch{"dependencies": []string{"A"}})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, resilience.DefaultBreakerConfig)
			ctx := context.Background()
			tasks := storage.Tasks(f.repo)
			for _, task := range tt.seed {
				if _, err := tasks.Create(ctx, task); err != nil {
					t.Fatalf("seed %s: %v", task.ID, err)
				}
			}

			err := tt.write(ctx, tasks)
			ce, ok := resilience.AsClassified(err)
			if !ok || ce.Kind != resilience.KindValidation || ce.Field != "dependencies" {
				t.Fatalf("expected validation error on dependencies, got %v", err)
			}

			all, err := tasks.Fresh(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != len(tt.seed) {
				t.Errorf("expected %d stored tasks, got %d", len(tt.seed), len(all))
			}
			for _, task := range all {
				want := -1
				for i, seeded := range tt.seed {
					if seeded.ID == task.ID {
						want = i
					}
				}
				if want < 0 || len(task.Dependencies) != len(tt.seed[want].Dependencies) {
					t.Errorf("task %s dependencies changed to %v", task.ID, task.Dependencies)
				}
			}
		})
	}
}

func TestRepository_DependencyWritesAllowAcyclicEdges(t *testing.T) {
	f := newFixture(t, resilience.DefaultBreakerConfig)
	ctx := context.Background()
	tasks := storage.Tasks(f.repo)

	for _, task := range []domain.Task{
		{ID: "A", Title: "a"},
		{ID: "B", Title: "b", Dependencies: []string{"A"}},
		{ID: "C", Title: "c", Dependencies: []string{"A"}},
	} {
		if _, err := tasks.Create(ctx, task); err != nil {
			t.Fatalf("seed %s: %v", task.ID, err)
		}
	}

	got, err := tasks.Update(ctx, "C", storage.Patch{"dependencies": []string{"A", "B"}})
	if err != nil {
		t.Fatalf("expected diamond edge accepted, got %v", err)
	}
	if !got.DependsOn("B") {
		t.Errorf("expected C to depend on B, got %v", got.Dependencies)
	}

	// Clearing dependencies never needs the cycle check.
	if _, err := tasks.Update(ctx, "B", storage.Patch{"dependencies": nil}); err != nil {
		t.Fatalf("clear dependencies: %v", err)
	}

	if _, err := tasks.Update(ctx, "A", storage.Patch{"dependencies": "B"}); err == nil {
		t.Error("expected non-list dependencies rejected")
	}
}
