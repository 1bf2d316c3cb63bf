package components

import (
	"github.com/avelline/marketmill/internal/model"
)

// StepEntry is a single build step prepared for rendering. Reason carries the
// planner's selection reason ("new" or "rebuild") when known.
type StepEntry struct {
	ID     string
	Reason string
	Result model.StepResult
}

// StepList renders the planned steps with their current status.
type StepList struct {
	entries []StepEntry
}

// NewStepList constructs a step list in plan order.
func NewStepList(order []string, steps map[string]model.StepResult, reasons map[string]string) StepList {
	entries := make([]StepEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, StepEntry{ID: id, Reason: reasons[id], Result: steps[id]})
	}
	return StepList{entries: entries}
}

// Entries returns the ordered step entries.
func (s StepList) Entries() []StepEntry {
	clone := make([]StepEntry, len(s.entries))
	copy(clone, s.entries)
	return clone
}
