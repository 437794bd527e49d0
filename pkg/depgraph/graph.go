// Package depgraph validates and queries the dependency DAG of a goal's
// tasks: cycle detection, topological order, the ready set, and transitive
// dependents.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/planloom/planloom/pkg/models"
)

// CycleError reports a dependency cycle with the offending path.
type CycleError struct {
	// Path lists task IDs along the cycle; the first ID repeats at the end.
	Path []string
}

// Error returns formatted error message
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// UnknownDependencyError reports an edge to a task that is not in the graph.
type UnknownDependencyError struct {
	TaskID     string
	Dependency string
}

// Error returns formatted error message
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.TaskID, e.Dependency)
}

// Graph is an immutable snapshot of one goal's task DAG. Build a fresh graph
// per scheduling decision; the tasks themselves are not retained.
type Graph struct {
	order []string            // task IDs in insertion order
	deps  map[string][]string // task -> its dependencies
	rdeps map[string][]string // task -> tasks that depend on it

	memoDependents map[string][]string
}

// New builds a graph from a goal's tasks. Task order is preserved so every
// derived ordering is deterministic.
func New(tasks []*models.Task) *Graph {
	g := &Graph{
		deps:           make(map[string][]string, len(tasks)),
		rdeps:          make(map[string][]string, len(tasks)),
		memoDependents: make(map[string][]string),
	}
	for _, t := range tasks {
		g.order = append(g.order, t.TaskID)
		g.deps[t.TaskID] = append([]string(nil), t.Dependencies...)
	}
	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			g.rdeps[dep] = append(g.rdeps[dep], id)
		}
	}
	return g
}

// Has reports whether the task is part of the graph.
func (g *Graph) Has(taskID string) bool {
	_, ok := g.deps[taskID]
	return ok
}

// Validate checks that every edge points inside the graph and that the graph
// is acyclic. Returns *UnknownDependencyError or *CycleError.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			if !g.Has(dep) {
				return &UnknownDependencyError{TaskID: id, Dependency: dep}
			}
		}
	}
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns task IDs in dependency order via Kahn's
// algorithm. Among tasks with no remaining dependencies, insertion order
// wins. Returns *CycleError if the graph has a cycle.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			if g.Has(dep) {
				indegree[id]++
			}
		}
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, dependent := range g.rdeps[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.order) {
		return nil, &CycleError{Path: g.findCycle()}
	}
	return result, nil
}

// findCycle walks depth-first until it revisits a task on the current stack.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(g.order))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			if !g.Has(dep) {
				continue
			}
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found it: slice the stack from the first occurrence of dep
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			break
		}
	}
	return cycle
}

// Ready returns the IDs of tasks whose every dependency reports completed,
// according to the supplied status lookup. Tasks themselves are not
// filtered by status here; callers intersect with the queued set.
func (g *Graph) Ready(status func(taskID string) models.TaskStatus) []string {
	var ready []string
	for _, id := range g.order {
		ok := true
		for _, dep := range g.deps[id] {
			if status(dep) != models.TaskStatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// Dependents returns the transitive set of tasks blocked by taskID, sorted
// for determinism. Results are memoized; the graph is a snapshot, so
// memoization never goes stale.
func (g *Graph) Dependents(taskID string) []string {
	if cached, ok := g.memoDependents[taskID]; ok {
		return cached
	}

	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, dependent := range g.rdeps[id] {
			if !seen[dependent] {
				seen[dependent] = true
				walk(dependent)
			}
		}
	}
	walk(taskID)

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)

	g.memoDependents[taskID] = result
	return result
}
