package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/avelline/marketmill/internal/model"
	"github.com/avelline/marketmill/internal/tui/components"
)

// View renders the current build state.
func (m Model) View() string {
	var sections []string

	title := titleStyle.Render(fmt.Sprintf("marketmill • %s", m.title))
	sections = append(sections, title)

	progress := components.NewProgress(m.total).View(m.completed)
	sections = append(sections, sectionStyle.Render("Progress"), progress)

	list := components.NewStepList(m.order, m.steps, m.reasons)
	entries := list.Entries()
	if len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Steps"))
		sections = append(sections, renderStepEntries(entries))
	}

	summary := components.NewSummary(components.SummaryData{
		Total:     m.total,
		Completed: m.completed,
		Finished:  m.finished,
		Cancelled: m.cancelled,
		FailedID:  m.failedID,
	}).View()
	if strings.TrimSpace(summary) != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summaryStyle.Render(summary))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderStepEntries(entries []components.StepEntry) string {
	var lines []string
	for _, entry := range entries {
		res := entry.Result
		line := fmt.Sprintf(" %s %s", StatusIcon(res.Status), entry.ID)
		if entry.Reason != "" {
			line = fmt.Sprintf("%s %s", line, reasonStyle.Render("["+entry.Reason+"]"))
		}
		if res.Status == model.StatusFailed && strings.TrimSpace(res.Message) != "" {
			line = fmt.Sprintf("%s — %s", line, res.Message)
		}
		if res.Duration > 0 {
			line = fmt.Sprintf("%s (%s)", line, res.Duration.Truncate(10*time.Millisecond))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// StatusIcon returns the glyph representing a step status.
func StatusIcon(status string) string {
	switch status {
	case model.StatusSuccess:
		return successStyle.Render("✓")
	case model.StatusRunning:
		return runningStyle.Render("⏳")
	case model.StatusFailed:
		return failureStyle.Render("✗")
	case model.StatusSkipped:
		return skippedStyle.Render("⊘")
	default:
		return pendingStyle.Render("…")
	}
}
