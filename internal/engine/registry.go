package engine

import (
	"fmt"
	"sort"

	millerrors "github.com/avelline/marketmill/pkg/errors"
)

// Step describes a registered build step. ID is the stable manifest key and
// survives reorderings; Target names the artifact the step produces and is
// what dependencies and rebuild requests refer to.
type Step struct {
	ID        string
	Target    string
	DependsOn []string
	Action    Action
}

// Registry holds the build steps in registration order.
type Registry struct {
	steps    []Step
	byID     map[string]int
	byTarget map[string]int
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]int),
		byTarget: make(map[string]int),
	}
}

// Register adds a step. Step ids and targets must both be unique: two live
// steps producing the same target would make cascade requests ambiguous.
func (r *Registry) Register(step Step) error {
	if step.ID == "" {
		return millerrors.NewValidationError("steps", "step id cannot be empty", nil)
	}
	if step.Target == "" {
		return millerrors.NewValidationError("steps."+step.ID, "step target cannot be empty", nil)
	}
	if step.Action == nil {
		return millerrors.NewValidationError("steps."+step.ID, "step action cannot be nil", nil)
	}
	if _, exists := r.byID[step.ID]; exists {
		return millerrors.NewValidationError("steps", fmt.Sprintf("duplicate step id %q", step.ID), nil)
	}
	if prev, exists := r.byTarget[step.Target]; exists {
		return millerrors.NewValidationError(
			"steps",
			fmt.Sprintf("duplicate target %q: already produced by step %q", step.Target, r.steps[prev].ID),
			nil,
		)
	}

	step.DependsOn = append([]string(nil), step.DependsOn...)
	r.byID[step.ID] = len(r.steps)
	r.byTarget[step.Target] = len(r.steps)
	r.steps = append(r.steps, step)
	return nil
}

// Steps returns the registered steps in registration order.
func (r *Registry) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.steps)
}

// HasTarget reports whether any registered step produces target.
func (r *Registry) HasTarget(target string) bool {
	_, ok := r.byTarget[target]
	return ok
}

// KnownTargets returns every produced target, sorted.
func (r *Registry) KnownTargets() []string {
	targets := make([]string, 0, len(r.byTarget))
	for target := range r.byTarget {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Validate checks that every dependency names a produced target and that the
// dependency graph is acyclic. Both defects are configuration errors caught
// before any step runs.
func (r *Registry) Validate() error {
	for _, step := range r.steps {
		for _, dep := range step.DependsOn {
			if !r.HasTarget(dep) {
				return millerrors.NewValidationError(
					"steps."+step.ID+".depends_on",
					fmt.Sprintf("references unknown target %q", dep),
					nil,
				)
			}
		}
	}

	if cycle := r.detectCycle(); len(cycle) > 0 {
		return millerrors.NewValidationError(
			"steps",
			fmt.Sprintf("dependency cycle detected: %s", joinCycle(cycle)),
			nil,
		)
	}

	return nil
}
