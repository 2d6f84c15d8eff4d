package components

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummaryView(t *testing.T) {
	t.Parallel()

	t.Run("renders empty summary", func(t *testing.T) {
		t.Parallel()
		view := NewSummary(SummaryData{}).View()
		require.Equal(t, "", view)
	})

	t.Run("renders steps progress", func(t *testing.T) {
		t.Parallel()
		view := NewSummary(SummaryData{Total: 10, Completed: 5}).View()
		require.Contains(t, view, "Steps: 5/10 completed")
	})

	t.Run("renders successful completion", func(t *testing.T) {
		t.Parallel()
		view := NewSummary(SummaryData{Total: 10, Completed: 10, Finished: true}).View()
		require.Contains(t, view, "Run finished successfully")
	})

	t.Run("renders partial completion when finished", func(t *testing.T) {
		t.Parallel()
		view := NewSummary(SummaryData{Total: 10, Completed: 7, Finished: true}).View()
		require.Contains(t, view, "Run finished with pending steps")
	})

	t.Run("cancellation wins over finished message", func(t *testing.T) {
		t.Parallel()
		view := NewSummary(SummaryData{Total: 10, Completed: 5, Finished: true, Cancelled: true}).View()
		require.Contains(t, view, "Run cancelled")
		require.NotContains(t, view, "finished successfully")
	})

	t.Run("renders validation outcomes", func(t *testing.T) {
		t.Parallel()
		view := NewSummary(SummaryData{
			Total:     5,
			Completed: 5,
			Finished:  true,
			Validations: []ValidationStatus{
				{Passed: true, Message: "command available: zsh"},
				{Passed: false, Message: "command not found: mongosh"},
			},
		}).View()
		require.Contains(t, view, "Validations:")
		require.Contains(t, view, "✓ command available: zsh")
		require.Contains(t, view, "✗ command not found: mongosh")
	})
}
