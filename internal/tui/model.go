// Package tui renders build progress as a Bubbletea program: one line per
// planned step, a completion bar and a closing summary.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/avelline/marketmill/internal/engine"
	"github.com/avelline/marketmill/internal/model"
)

// StepStartMsg marks a step as running.
type StepStartMsg struct {
	ID     string
	Target string
	Time   time.Time
}

// StepCompleteMsg carries a finished step's result.
type StepCompleteMsg struct {
	Result model.StepResult
}

// DoneMsg ends the program once the build goroutine returns.
type DoneMsg struct {
	Err error
}

type tickMsg struct{}

// Model holds the Bubbletea state for a build run.
type Model struct {
	title     string
	steps     map[string]model.StepResult
	reasons   map[string]string
	order     []string
	total     int
	completed int
	failedID  string
	err       error
	finished  bool
	cancelled bool
}

// NewModel seeds the display with every step of the plan, in plan order.
func NewModel(plan *engine.Plan, title string) Model {
	m := Model{
		title:   title,
		steps:   make(map[string]model.StepResult),
		reasons: make(map[string]string),
	}
	if m.title == "" {
		m.title = "Build"
	}

	if plan != nil {
		for _, ps := range plan.Steps {
			m.ensureStep(ps.Step.ID)
			m.reasons[ps.Step.ID] = string(ps.Reason)
		}
	}

	return m
}

// Init kicks the first render.
func (m Model) Init() tea.Cmd {
	return tea.Tick(time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

// TotalSteps returns the number of steps tracked by the model.
func (m Model) TotalSteps() int {
	return m.total
}

// CompletedSteps returns the number of steps that reached a terminal status.
func (m Model) CompletedSteps() int {
	return m.completed
}

// IsFinished reports whether the build has ended.
func (m Model) IsFinished() bool {
	return m.finished
}

// IsCancelled reports whether the user interrupted the run.
func (m Model) IsCancelled() bool {
	return m.cancelled
}

// Err returns the build error delivered by DoneMsg, if any.
func (m Model) Err() error {
	return m.err
}

func (m *Model) ensureStep(id string) {
	if id == "" {
		return
	}
	if _, exists := m.steps[id]; !exists {
		m.steps[id] = model.StepResult{StepID: id, Status: model.StatusPending}
		m.order = append(m.order, id)
		m.total++
	}
}
