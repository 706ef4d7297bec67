package phase

import (
	"fmt"
	"sort"
)

// ExecutionOrder topologically sorts phases by their dependencies. Among
// phases that are ready at the same time the lower Order runs first, so a
// linear plan comes back in its original order. Unknown dependency ids are
// ignored and reported as warnings. Phases caught in a cycle are appended
// in Order so the result always names every phase exactly once.
func ExecutionOrder(phases []Phase) ([]string, []string) {
	var warnings []string

	known := make(map[string]Phase, len(phases))
	for _, p := range phases {
		known[p.ID] = p
	}

	indegree := make(map[string]int, len(phases))
	dependents := make(map[string][]string, len(phases))
	for _, p := range phases {
		indegree[p.ID] += 0
		for _, dep := range p.Dependencies {
			if _, ok := known[dep]; !ok {
				warnings = append(warnings, fmt.Sprintf("%s depends on unknown phase %s; ignoring", p.ID, dep))
				continue
			}
			indegree[p.ID]++
			dependents[dep] = append(dependents[dep], p.ID)
		}
	}

	var ready []Phase
	for _, p := range phases {
		if indegree[p.ID] == 0 {
			ready = append(ready, p)
		}
	}

	order := make([]string, 0, len(phases))
	done := make(map[string]bool, len(phases))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].Order < ready[j].Order })
		next := ready[0]
		ready = ready[1:]

		order = append(order, next.ID)
		done[next.ID] = true

		for _, dependent := range dependents[next.ID] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, known[dependent])
			}
		}
	}

	if len(order) < len(phases) {
		var stuck []Phase
		for _, p := range phases {
			if !done[p.ID] {
				stuck = append(stuck, p)
			}
		}
		sort.SliceStable(stuck, func(i, j int) bool { return stuck[i].Order < stuck[j].Order })
		for _, p := range stuck {
			order = append(order, p.ID)
		}
		warnings = append(warnings, fmt.Sprintf("%d phases have circular dependencies; appended in declared order", len(stuck)))
	}

	return order, warnings
}

// ValidateDependencies reports dependencies that point at unknown phases or
// at phases that do not come earlier in the slice.
func ValidateDependencies(phases []Phase) []string {
	var problems []string
	position := make(map[string]int, len(phases))
	for i, p := range phases {
		position[p.ID] = i
	}
	for i, p := range phases {
		for _, dep := range p.Dependencies {
			pos, ok := position[dep]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("%s depends on unknown phase %s", p.ID, dep))
			case pos >= i:
				problems = append(problems, fmt.Sprintf("%s depends on later phase %s", p.ID, dep))
			}
		}
	}
	return problems
}
