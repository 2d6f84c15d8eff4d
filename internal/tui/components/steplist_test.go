package components

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/model"
)

func TestNewStepList(t *testing.T) {
	t.Parallel()

	t.Run("creates empty step list", func(t *testing.T) {
		t.Parallel()
		sl := NewStepList([]string{}, map[string]model.StepResult{})
		require.Empty(t, sl.entries)
	})

	t.Run("respects provided order", func(t *testing.T) {
		t.Parallel()
		order := []string{"enable_firewall", "install_packages", "create_swap"}
		steps := map[string]model.StepResult{
			"install_packages": {Status: model.StatusSuccess},
			"create_swap":      {Status: model.StatusRunning},
			"enable_firewall":  {Status: model.StatusPending},
		}

		sl := NewStepList(order, steps)
		require.Len(t, sl.entries, 3)
		require.Equal(t, "enable_firewall", sl.entries[0].ID)
		require.Equal(t, "install_packages", sl.entries[1].ID)
		require.Equal(t, "create_swap", sl.entries[2].ID)
	})
}

func TestStepListEntries(t *testing.T) {
	t.Parallel()

	t.Run("returns independent copy", func(t *testing.T) {
		t.Parallel()
		sl := NewStepList([]string{"step1"}, map[string]model.StepResult{
			"step1": {Status: model.StatusSuccess},
		})

		entries1 := sl.Entries()
		entries2 := sl.Entries()
		entries1[0].ID = "modified"
		require.Equal(t, "step1", entries2[0].ID)
	})

	t.Run("preserves entry details", func(t *testing.T) {
		t.Parallel()
		sl := NewStepList([]string{"step1"}, map[string]model.StepResult{
			"step1": {Status: model.StatusSkipped, Message: "no changes needed"},
		})

		entries := sl.Entries()
		require.Len(t, entries, 1)
		require.Equal(t, model.StatusSkipped, entries[0].Result.Status)
		require.Equal(t, "no changes needed", entries[0].Result.Message)
	})
}
