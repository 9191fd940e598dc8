package graph

import "sort"

// TopologicalOrder returns task ids with every dependency before its
// dependents. Ties break by id. Dangling dependencies are ignored.
func (g *Graph) TopologicalOrder() ([]string, error) {
	pending := make(map[string]int, len(g.tasks))
	for id := range g.tasks {
		n := 0
		for _, dep := range g.deps[id] {
			if _, ok := g.tasks[dep]; ok {
				n++
			}
		}
		pending[id] = n
	}

	var ready []string
	for id, n := range pending {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.tasks))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string
		for _, dependent := range g.dependents[id] {
			if _, ok := g.tasks[dependent]; !ok {
				continue
			}
			pending[dependent]--
			if pending[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.tasks) {
		return nil, ErrCycle
	}
	return order, nil
}

// DetectCycle returns a cycle path if one exists, or nil if the graph is
// acyclic. It colours nodes white (unvisited), gray (on the current path)
// and black (done).
func (g *Graph) DetectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.tasks))
	parent := make(map[string]string)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		color[node] = gray
		for _, next := range g.deps[node] {
			if _, ok := g.tasks[next]; !ok {
				continue
			}
			if color[next] == gray {
				cycle := []string{next, node}
				cur := node
				for cur != next {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
