package components

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummaryViewSuccess(t *testing.T) {
	t.Parallel()

	view := NewSummary(SummaryData{Total: 6, Completed: 6, Finished: true}).View()
	require.Contains(t, view, "Steps: 6/6 completed")
	require.Contains(t, view, "Build finished successfully")
}

func TestSummaryViewFailure(t *testing.T) {
	t.Parallel()

	view := NewSummary(SummaryData{Total: 6, Completed: 2, Finished: true, FailedID: "prices_v2"}).View()
	require.Contains(t, view, "Build failed at prices_v2")
	require.NotContains(t, view, "successfully")
}

func TestSummaryViewCancelledWinsOverFailure(t *testing.T) {
	t.Parallel()

	view := NewSummary(SummaryData{Total: 6, Completed: 1, Cancelled: true, FailedID: "x"}).View()
	require.Contains(t, view, "Build cancelled")
}

func TestSummaryViewEmptyWithoutSteps(t *testing.T) {
	t.Parallel()

	view := NewSummary(SummaryData{}).View()
	require.Empty(t, view)
}
