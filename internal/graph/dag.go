// Package graph validates task dependency graphs for the Project/Task
// Engine: no self-dependencies, no references outside the project, and
// no cycles. Validation runs in-process against the project's task set
// rather than against a separate graph-shaped table, since the engine
// already owns task persistence through internal/store; the recursive
// reachability check the teacher ran as a per-edge SQL query
// (cycleCheckSQL in the original dag.go) is replaced here by an
// in-memory Kahn's algorithm over the whole project, as spec'd.
package graph

import (
	"fmt"
	"sort"
)

// ErrCycle is returned when the dependency graph cannot be topologically
// sorted; Remaining holds the task ids that could not be emptied.
type ErrCycle struct {
	Remaining []string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("graph: dependency cycle among tasks %v", e.Remaining)
}

// Validate checks that edges (task id -> ids it depends on) reference only
// ids present in nodes, contain no self-dependency, and contain no cycle.
func Validate(nodes []string, edges map[string][]string) error {
	nodeSet := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		nodeSet[n] = struct{}{}
	}

	for id, deps := range edges {
		if _, ok := nodeSet[id]; !ok {
			return fmt.Errorf("graph: edge source %q not in project", id)
		}
		for _, dep := range deps {
			if dep == id {
				return fmt.Errorf("graph: task %q depends on itself", id)
			}
			if _, ok := nodeSet[dep]; !ok {
				return fmt.Errorf("graph: task %q depends on %q outside the project", id, dep)
			}
		}
	}

	if cycle := findCycle(nodes, edges); cycle != nil {
		return &ErrCycle{Remaining: cycle}
	}
	return nil
}

// findCycle runs Kahn's algorithm: repeatedly remove nodes whose
// dependencies have all been removed; if nodes remain once no more can
// be removed, they form a cycle.
func findCycle(nodes []string, edges map[string][]string) []string {
	remaining := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		remaining[n] = append([]string(nil), edges[n]...)
	}

	removed := make(map[string]bool, len(nodes))
	for len(removed) < len(nodes) {
		progressed := false
		for _, n := range nodes {
			if removed[n] {
				continue
			}
			if allResolved(remaining[n], removed) {
				removed[n] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	if len(removed) == len(nodes) {
		return nil
	}

	var left []string
	for _, n := range nodes {
		if !removed[n] {
			left = append(left, n)
		}
	}
	sort.Strings(left)
	return left
}

func allResolved(deps []string, removed map[string]bool) bool {
	for _, d := range deps {
		if !removed[d] {
			return false
		}
	}
	return true
}

// TopoOrder returns nodes in one valid dependency order (dependencies
// before dependents); ties are broken by less so callers can layer
// priority/insertion-order rules on top.
func TopoOrder(nodes []string, edges map[string][]string, less func(a, b string) bool) ([]string, error) {
	if err := Validate(nodes, edges); err != nil {
		return nil, err
	}

	remaining := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		remaining[n] = append([]string(nil), edges[n]...)
	}
	removed := make(map[string]bool, len(nodes))

	order := make([]string, 0, len(nodes))
	for len(order) < len(nodes) {
		var ready []string
		for _, n := range nodes {
			if removed[n] {
				continue
			}
			if allResolved(remaining[n], removed) {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			return nil, &ErrCycle{}
		}
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		for _, n := range ready {
			removed[n] = true
			order = append(order, n)
		}
	}
	return order, nil
}
