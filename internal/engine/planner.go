package engine

import (
	"fmt"
	"strings"

	millerrors "github.com/avelline/marketmill/pkg/errors"

	"github.com/avelline/marketmill/internal/manifest"
)

// Reason explains why the planner selected a step.
type Reason string

const (
	// ReasonNew marks a step with no manifest entry under its current id.
	ReasonNew Reason = "new"
	// ReasonRebuild marks a previously completed step selected again.
	ReasonRebuild Reason = "rebuild"
)

// PlanStep is one entry of an execution plan.
type PlanStep struct {
	Step   Step
	Reason Reason
}

// Plan is the ordered list of steps a build run will execute.
type Plan struct {
	Steps []PlanStep
}

// IsEmpty reports whether the plan selects no steps.
func (p *Plan) IsEmpty() bool {
	return p == nil || len(p.Steps) == 0
}

// String renders the plan one step per line, the format printed by dry runs.
func (p *Plan) String() string {
	if p.IsEmpty() {
		return ""
	}

	var b strings.Builder
	for _, ps := range p.Steps {
		status := "REBUILD"
		if ps.Reason == ReasonNew {
			status = "NEW"
		}
		fmt.Fprintf(&b, "%s (target=%s) [%s]\n", ps.Step.ID, ps.Step.Target, status)
	}
	return b.String()
}

// BuildPlan decides which steps run and in what order. Order is the
// topological order of the dependency graph with ties broken by registration
// index, so a registry declared in dependency order plans in declaration
// order. A step is selected when its id has no manifest entry, when its
// target was requested or sits downstream of a request, or when any of its
// dependencies was selected earlier in the same plan.
func BuildPlan(reg *Registry, man manifest.Manifest, requested []string, full bool) (*Plan, error) {
	if reg == nil {
		return nil, millerrors.NewValidationError("steps", "registry is nil", nil)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	for _, target := range requested {
		if !reg.HasTarget(target) {
			return nil, millerrors.NewValidationError(
				"targets",
				fmt.Sprintf("unknown target %q, known targets: %s", target, strings.Join(reg.KnownTargets(), ", ")),
				nil,
			)
		}
	}

	ordered, err := reg.topoOrder()
	if err != nil {
		return nil, err
	}

	reason := func(id string) Reason {
		if man.Has(id) {
			return ReasonRebuild
		}
		return ReasonNew
	}

	plan := &Plan{}

	if full {
		for _, step := range ordered {
			plan.Steps = append(plan.Steps, PlanStep{Step: step, Reason: reason(step.ID)})
		}
		return plan, nil
	}

	forceTargets := make(map[string]bool)
	for _, target := range requested {
		forceTargets[target] = true
		for _, downstream := range reg.Downstream(target) {
			forceTargets[downstream] = true
		}
	}

	rebuilt := make(map[string]bool)
	for _, step := range ordered {
		shouldRun := !man.Has(step.ID) || forceTargets[step.Target]
		if !shouldRun {
			for _, dep := range step.DependsOn {
				if rebuilt[dep] {
					shouldRun = true
					break
				}
			}
		}
		if !shouldRun {
			continue
		}

		plan.Steps = append(plan.Steps, PlanStep{Step: step, Reason: reason(step.ID)})
		rebuilt[step.Target] = true
	}

	return plan, nil
}

// topoOrder sorts steps topologically with Kahn's algorithm, breaking ties
// by registration index so well-ordered registries come back verbatim.
func (r *Registry) topoOrder() ([]Step, error) {
	indegree := make([]int, len(r.steps))
	dependents := make([][]int, len(r.steps))

	for i, step := range r.steps {
		for _, dep := range step.DependsOn {
			producer, ok := r.byTarget[dep]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[producer] = append(dependents[producer], i)
		}
	}

	var ready []int
	for i := range r.steps {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Step, 0, len(r.steps))
	for len(ready) > 0 {
		next := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[next] {
				next = i
			}
		}
		idx := ready[next]
		ready = append(ready[:next], ready[next+1:]...)

		ordered = append(ordered, r.steps[idx])
		for _, dependent := range dependents[idx] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) != len(r.steps) {
		return nil, millerrors.NewValidationError("steps", "cycle detected while ordering steps", nil)
	}

	return ordered, nil
}
