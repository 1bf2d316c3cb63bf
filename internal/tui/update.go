package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/avelline/marketmill/internal/model"
)

// Update advances the model for each incoming message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, nil
	case StepStartMsg:
		m.ensureStep(msg.ID)
		step := m.steps[msg.ID]
		step.Target = msg.Target
		step.Status = model.StatusRunning
		m.steps[msg.ID] = step
		return m, nil
	case StepCompleteMsg:
		id := msg.Result.StepID
		if id == "" {
			return m, nil
		}
		m.ensureStep(id)
		wasTerminal := isTerminal(m.steps[id].Status)
		m.steps[id] = msg.Result
		if !wasTerminal {
			m.completed++
		}
		if msg.Result.Status == model.StatusFailed {
			m.failedID = id
		}
		return m, nil
	case DoneMsg:
		m.err = msg.Err
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			m.finished = true
			return m, tea.Quit
		}
	case tea.QuitMsg:
		m.finished = true
		return m, nil
	}

	return m, nil
}

func isTerminal(status string) bool {
	switch status {
	case model.StatusSuccess, model.StatusFailed, model.StatusSkipped:
		return true
	}
	return false
}
