package engine

import (
	"sort"
	"strings"
)

// dependents builds the reverse dependency index: target -> targets that
// depend on it directly. Derived on demand; the registry stays the single
// source of truth.
func (r *Registry) dependents() map[string][]string {
	index := make(map[string][]string, len(r.steps))
	for _, step := range r.steps {
		for _, dep := range step.DependsOn {
			index[dep] = append(index[dep], step.Target)
		}
	}
	return index
}

// Downstream returns every target transitively dependent on target, sorted.
// The target itself is excluded. Diamond-shaped graphs contribute each
// downstream target once.
func (r *Registry) Downstream(target string) []string {
	index := r.dependents()

	visited := make(map[string]bool)
	queue := []string{target}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if visited[t] {
			continue
		}
		visited[t] = true
		queue = append(queue, index[t]...)
	}
	delete(visited, target)

	out := make([]string, 0, len(visited))
	for t := range visited {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// detectCycle returns the targets participating in a dependency cycle, or
// nil if the graph is acyclic.
func (r *Registry) detectCycle() []string {
	graph := make(map[string][]string, len(r.steps))
	for _, step := range r.steps {
		deps := make([]string, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if r.HasTarget(dep) {
				deps = append(deps, dep)
			}
		}
		graph[step.Target] = deps
	}

	visiting := make(map[string]bool, len(graph))
	visited := make(map[string]bool, len(graph))
	var stack []string

	var cycle []string
	var dfs func(string) bool
	dfs = func(node string) bool {
		visiting[node] = true
		stack = append(stack, node)

		for _, dep := range graph[node] {
			if !visited[dep] {
				if visiting[dep] {
					idx := indexOf(stack, dep)
					if idx >= 0 {
						cycle = append([]string{}, stack[idx:]...)
						cycle = append(cycle, dep)
					}
					return true
				}
				if dfs(dep) {
					return true
				}
			}
		}

		visiting[node] = false
		visited[node] = true
		stack = stack[:len(stack)-1]
		return false
	}

	targets := make([]string, 0, len(graph))
	for target := range graph {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		if visited[target] {
			continue
		}
		if dfs(target) {
			break
		}
	}

	return cycle
}

func joinCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

func indexOf(slice []string, target string) int {
	for i, v := range slice {
		if v == target {
			return i
		}
	}
	return -1
}
