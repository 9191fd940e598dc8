package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/graph"
	"github.com/vietddude/taskgraph/internal/infra/lock"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
)

// DependencyLockKey serializes every write that changes task dependencies.
// A per-task key is not enough: A->B and B->A land on different tasks and
// would each pass the cycle check.
const DependencyLockKey = "tasks:dependencies"

// guardDependencies takes the dependency lock and checks that writing deps
// to task id closes no cycle. Callers release the returned func after the
// store write. Writes that do not touch dependencies, and callers that
// already hold the lock and did their own check, pass straight through.
func (r *Repository) guardDependencies(ctx context.Context, id string, fields map[string]any) (func(), error) {
	noop := func() {}
	raw, ok := fields["dependencies"]
	if !ok || lock.Held(ctx, DependencyLockKey) {
		return noop, nil
	}

	deps, err := decodeDependencies(raw)
	if err != nil {
		return nil, err
	}
	if len(deps) == 0 {
		return noop, nil
	}
	if slices.Contains(deps, id) {
		return nil, resilience.NewValidationError("dependencies", "a task cannot depend on itself")
	}

	unlock, err := r.locker.Lock(ctx, DependencyLockKey)
	if err != nil {
		return nil, resilience.Classify(fmt.Errorf("lock dependencies: %w", err), "tasks.dependencies")
	}

	// Decide against the store, not the cache: a concurrent writer may have
	// added edges since the last cached read.
	current, err := Tasks(r).Fresh(ctx)
	if err != nil {
		unlock()
		return nil, err
	}
	g := graph.Build(current)
	existing, _ := g.Task(id)

	for _, dep := range deps {
		if existing.DependsOn(dep) {
			continue
		}
		if g.WouldCreateCycle(id, dep) {
			unlock()
			return nil, resilience.NewValidationError("dependencies",
				fmt.Sprintf("adding %s as a dependency of %s would create a cycle", dep, id))
		}
	}
	return unlock, nil
}

func decodeDependencies(v any) ([]string, error) {
	switch deps := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return deps, nil
	}

	raw, err := json.Marshal(v)
	if err == nil {
		var deps []string
		if err = json.Unmarshal(raw, &deps); err == nil {
			return deps, nil
		}
	}
	return nil, resilience.NewValidationError("dependencies",
		fmt.Sprintf("dependencies must be a list of %s ids", domain.EntityTasks))
}
