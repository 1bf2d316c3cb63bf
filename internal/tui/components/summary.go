package components

import (
	"fmt"
	"strings"
)

// SummaryData aggregates counts for the closing build summary.
type SummaryData struct {
	Total     int
	Completed int
	Finished  bool
	Cancelled bool
	FailedID  string
}

// Summary renders a textual build summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	var lines []string
	if s.data.Total > 0 {
		lines = append(lines, fmt.Sprintf("Steps: %d/%d completed", s.data.Completed, s.data.Total))
	}

	switch {
	case s.data.Cancelled:
		lines = append(lines, "Build cancelled")
	case s.data.FailedID != "":
		lines = append(lines, fmt.Sprintf("Build failed at %s", s.data.FailedID))
	case s.data.Finished && s.data.Total > 0:
		if s.data.Completed == s.data.Total {
			lines = append(lines, "Build finished successfully")
		} else {
			lines = append(lines, "Build finished with pending steps")
		}
	}

	return strings.Join(lines, "\n")
}
